package store

import (
	"encoding/binary"
	"encoding/json"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	dbm "github.com/cosmos/cosmos-db"

	"github.com/quorumfeed/quorumfeed/types"
)

// Key prefixes. Each record family gets its own namespace so iterators never
// cross families.
var (
	prefixFeed          = []byte{0x01}
	prefixAggregate     = []byte{0x02}
	prefixObservation   = []byte{0x03}
	prefixRingMeta      = []byte{0x04}
	prefixAccount       = []byte{0x05}
	prefixSlashingEvent = []byte{0x06}
	prefixDispute       = []byte{0x07}
	prefixCircuit       = []byte{0x08}
	prefixCommitment    = []byte{0x09}
	prefixVerifier      = []byte{0x0A}
	prefixRound         = []byte{0x0B}
	prefixRewardedRound = []byte{0x0C}
	keyTreasury         = []byte{0x0D}
)

// Store is the engine's persistence layer over a cosmos-db backend.
// All records are JSON-encoded; keys are prefix || identifier.
type Store struct {
	db           dbm.DB
	ringCapacity uint64
}

// New wraps an opened database. ringCapacity bounds per-feed observation
// retention.
func New(db dbm.DB, ringCapacity int) *Store {
	if ringCapacity <= 0 {
		ringCapacity = types.DefaultParams().RingCapacity
	}
	return &Store{db: db, ringCapacity: uint64(ringCapacity)}
}

// NewMem returns a memory-backed store for tests.
func NewMem(ringCapacity int) *Store {
	return New(dbm.NewMemDB(), ringCapacity)
}

// Open creates a goleveldb-backed store under dir.
func Open(name, dir string, ringCapacity int) (*Store, error) {
	db, err := dbm.NewGoLevelDB(name, dir, nil)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrStoreFailure, "open leveldb: %v", err)
	}
	return New(db, ringCapacity), nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(prefix []byte, id string) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	k = append(k, prefix...)
	return append(k, id...)
}

func (s *Store) setJSON(k []byte, v interface{}) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return errorsmod.Wrapf(types.ErrStoreFailure, "encode: %v", err)
	}
	if err := s.db.Set(k, bz); err != nil {
		return errorsmod.Wrapf(types.ErrStoreFailure, "write: %v", err)
	}
	return nil
}

// getJSON loads k into v. Returns (false, nil) when the key is absent.
func (s *Store) getJSON(k []byte, v interface{}) (bool, error) {
	bz, err := s.db.Get(k)
	if err != nil {
		return false, errorsmod.Wrapf(types.ErrStoreFailure, "read: %v", err)
	}
	if bz == nil {
		return false, nil
	}
	if err := json.Unmarshal(bz, v); err != nil {
		return false, errorsmod.Wrapf(types.ErrStoreFailure, "decode: %v", err)
	}
	return true, nil
}

// iteratePrefix invokes fn for every value under prefix, decoded into a fresh
// instance produced by newV. Iteration stops on the first fn error.
func (s *Store) iteratePrefix(prefix []byte, fn func(bz []byte) error) error {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	end[len(end)-1]++
	it, err := s.db.Iterator(prefix, end)
	if err != nil {
		return errorsmod.Wrapf(types.ErrStoreFailure, "iterator: %v", err)
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if err := fn(it.Value()); err != nil {
			return err
		}
	}
	return nil
}

// Feeds.

func (s *Store) SetFeed(f types.Feed) error {
	return s.setJSON(key(prefixFeed, f.FeedID), f)
}

func (s *Store) GetFeed(feedID string) (types.Feed, bool, error) {
	var f types.Feed
	ok, err := s.getJSON(key(prefixFeed, feedID), &f)
	return f, ok, err
}

func (s *Store) ListFeeds() ([]types.Feed, error) {
	var out []types.Feed
	err := s.iteratePrefix(prefixFeed, func(bz []byte) error {
		var f types.Feed
		if err := json.Unmarshal(bz, &f); err != nil {
			return errorsmod.Wrapf(types.ErrStoreFailure, "decode feed: %v", err)
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// Aggregates. One current value per feed, superseded atomically.

func (s *Store) SetAggregate(p types.AggregatedPrice) error {
	return s.setJSON(key(prefixAggregate, p.FeedID), p)
}

func (s *Store) GetAggregate(feedID string) (types.AggregatedPrice, bool, error) {
	var p types.AggregatedPrice
	ok, err := s.getJSON(key(prefixAggregate, feedID), &p)
	return p, ok, err
}

// Oracle accounts.

func (s *Store) SetAccount(a types.OracleAccount) error {
	return s.setJSON(key(prefixAccount, a.Address), a)
}

func (s *Store) GetAccount(address string) (types.OracleAccount, bool, error) {
	var a types.OracleAccount
	ok, err := s.getJSON(key(prefixAccount, address), &a)
	return a, ok, err
}

func (s *Store) ListAccounts() ([]types.OracleAccount, error) {
	var out []types.OracleAccount
	err := s.iteratePrefix(prefixAccount, func(bz []byte) error {
		var a types.OracleAccount
		if err := json.Unmarshal(bz, &a); err != nil {
			return errorsmod.Wrapf(types.ErrStoreFailure, "decode account: %v", err)
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// Slashing events. Append-only; Reversed is the only mutable field.

func (s *Store) SetSlashingEvent(ev types.SlashingEvent) error {
	return s.setJSON(key(prefixSlashingEvent, ev.ID), ev)
}

func (s *Store) GetSlashingEvent(id string) (types.SlashingEvent, bool, error) {
	var ev types.SlashingEvent
	ok, err := s.getJSON(key(prefixSlashingEvent, id), &ev)
	return ev, ok, err
}

func (s *Store) ListSlashingEvents(oracle string) ([]types.SlashingEvent, error) {
	var out []types.SlashingEvent
	err := s.iteratePrefix(prefixSlashingEvent, func(bz []byte) error {
		var ev types.SlashingEvent
		if err := json.Unmarshal(bz, &ev); err != nil {
			return errorsmod.Wrapf(types.ErrStoreFailure, "decode slashing event: %v", err)
		}
		if oracle == "" || ev.Oracle == oracle {
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

// Disputes.

func (s *Store) SetDispute(d types.Dispute) error {
	return s.setJSON(key(prefixDispute, d.ID), d)
}

func (s *Store) GetDispute(id string) (types.Dispute, bool, error) {
	var d types.Dispute
	ok, err := s.getJSON(key(prefixDispute, id), &d)
	return d, ok, err
}

// ListDisputes returns disputes filtered by challenger, or all when
// challenger is empty.
func (s *Store) ListDisputes(challenger string) ([]types.Dispute, error) {
	var out []types.Dispute
	err := s.iteratePrefix(prefixDispute, func(bz []byte) error {
		var d types.Dispute
		if err := json.Unmarshal(bz, &d); err != nil {
			return errorsmod.Wrapf(types.ErrStoreFailure, "decode dispute: %v", err)
		}
		if challenger == "" || d.Challenger == challenger {
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// HasOpenDisputeAgainst reports whether any pending dispute references a
// slashing event of the given oracle. Used to block deregistration.
func (s *Store) HasOpenDisputeAgainst(oracle string) (bool, error) {
	found := false
	err := s.iteratePrefix(prefixDispute, func(bz []byte) error {
		var d types.Dispute
		if err := json.Unmarshal(bz, &d); err != nil {
			return errorsmod.Wrapf(types.ErrStoreFailure, "decode dispute: %v", err)
		}
		if d.Status != types.DisputePending {
			return nil
		}
		ev, ok, err := s.GetSlashingEvent(d.SlashingEventID)
		if err != nil {
			return err
		}
		if ok && ev.Oracle == oracle {
			found = true
		}
		return nil
	})
	return found, err
}

// Circuit breaker status.

func (s *Store) SetCircuit(c types.CircuitBreakerStatus) error {
	return s.setJSON(key(prefixCircuit, c.FeedID), c)
}

func (s *Store) GetCircuit(feedID string) (types.CircuitBreakerStatus, bool, error) {
	var c types.CircuitBreakerStatus
	ok, err := s.getJSON(key(prefixCircuit, feedID), &c)
	return c, ok, err
}

func (s *Store) ListCircuits() ([]types.CircuitBreakerStatus, error) {
	var out []types.CircuitBreakerStatus
	err := s.iteratePrefix(prefixCircuit, func(bz []byte) error {
		var c types.CircuitBreakerStatus
		if err := json.Unmarshal(bz, &c); err != nil {
			return errorsmod.Wrapf(types.ErrStoreFailure, "decode circuit: %v", err)
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// Commitments.

func (s *Store) SetCommitment(c types.Commitment) error {
	return s.setJSON(key(prefixCommitment, c.Hash), c)
}

func (s *Store) GetCommitment(hash string) (types.Commitment, bool, error) {
	var c types.Commitment
	ok, err := s.getJSON(key(prefixCommitment, hash), &c)
	return c, ok, err
}

// Verifiers.

func (s *Store) SetVerifier(v types.VerifierInfo) error {
	return s.setJSON(key(prefixVerifier, v.Address), v)
}

func (s *Store) GetVerifier(address string) (types.VerifierInfo, bool, error) {
	var v types.VerifierInfo
	ok, err := s.getJSON(key(prefixVerifier, address), &v)
	return v, ok, err
}

func (s *Store) ListVerifiers() ([]types.VerifierInfo, error) {
	var out []types.VerifierInfo
	err := s.iteratePrefix(prefixVerifier, func(bz []byte) error {
		var v types.VerifierInfo
		if err := json.Unmarshal(bz, &v); err != nil {
			return errorsmod.Wrapf(types.ErrStoreFailure, "decode verifier: %v", err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// Round state.

func (s *Store) SetRound(r types.RoundState) error {
	return s.setJSON(key(prefixRound, r.FeedID), r)
}

func (s *Store) GetRound(feedID string) (types.RoundState, bool, error) {
	var r types.RoundState
	ok, err := s.getJSON(key(prefixRound, feedID), &r)
	return r, ok, err
}

// Last rewarded round per (oracle, feed). Makes recordValid idempotent.

func rewardedKey(oracle, feedID string) []byte {
	return key(prefixRewardedRound, oracle+"/"+feedID)
}

func (s *Store) GetLastRewardedRound(oracle, feedID string) (uint64, error) {
	bz, err := s.db.Get(rewardedKey(oracle, feedID))
	if err != nil {
		return 0, errorsmod.Wrapf(types.ErrStoreFailure, "read rewarded round: %v", err)
	}
	if len(bz) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(bz), nil
}

func (s *Store) SetLastRewardedRound(oracle, feedID string, round uint64) error {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, round)
	if err := s.db.Set(rewardedKey(oracle, feedID), bz); err != nil {
		return errorsmod.Wrapf(types.ErrStoreFailure, "write rewarded round: %v", err)
	}
	return nil
}

// Treasury balance: accumulated forfeited stakes and slashed amounts.

func (s *Store) TreasuryBalance() (math.Int, error) {
	bz, err := s.db.Get(keyTreasury)
	if err != nil {
		return math.ZeroInt(), errorsmod.Wrapf(types.ErrStoreFailure, "read treasury: %v", err)
	}
	if bz == nil {
		return math.ZeroInt(), nil
	}
	var bal math.Int
	if err := bal.Unmarshal(bz); err != nil {
		return math.ZeroInt(), errorsmod.Wrapf(types.ErrStoreFailure, "decode treasury: %v", err)
	}
	return bal, nil
}

func (s *Store) AddToTreasury(amount math.Int) error {
	bal, err := s.TreasuryBalance()
	if err != nil {
		return err
	}
	bz, err := bal.Add(amount).Marshal()
	if err != nil {
		return errorsmod.Wrapf(types.ErrStoreFailure, "encode treasury: %v", err)
	}
	if err := s.db.Set(keyTreasury, bz); err != nil {
		return errorsmod.Wrapf(types.ErrStoreFailure, "write treasury: %v", err)
	}
	return nil
}
