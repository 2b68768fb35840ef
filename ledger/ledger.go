package ledger

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/metrics"
	"github.com/quorumfeed/quorumfeed/store"
	"github.com/quorumfeed/quorumfeed/types"
)

const lockStripes = 64

// Treasury receives forfeited stakes and slashed amounts, and funds refunds
// when a dispute reverses a slash.
type Treasury interface {
	Deposit(amount math.Int) error
	Withdraw(amount math.Int) error
}

// StoreTreasury keeps the treasury balance in the engine store.
type StoreTreasury struct {
	st *store.Store
}

func NewStoreTreasury(st *store.Store) *StoreTreasury { return &StoreTreasury{st: st} }

func (t *StoreTreasury) Deposit(amount math.Int) error { return t.st.AddToTreasury(amount) }

func (t *StoreTreasury) Withdraw(amount math.Int) error { return t.st.AddToTreasury(amount.Neg()) }

// Ledger tracks oracle stakes, reputation and the slashing audit trail.
// Mutations to one account are serialized through striped locks; operations
// touching distinct accounts proceed in parallel.
type Ledger struct {
	logger   log.Logger
	st       *store.Store
	params   types.Params
	emitter  *events.Emitter
	treasury Treasury
	locks    [lockStripes]sync.Mutex
}

func New(logger log.Logger, st *store.Store, params types.Params, emitter *events.Emitter, treasury Treasury) *Ledger {
	if treasury == nil {
		treasury = NewStoreTreasury(st)
	}
	return &Ledger{
		logger:   logger.With("module", "ledger"),
		st:       st,
		params:   params,
		emitter:  emitter,
		treasury: treasury,
	}
}

func (l *Ledger) lock(address string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(address))
	return &l.locks[h.Sum32()%lockStripes]
}

// Register creates a new oracle account at full reputation. Stake must fall
// within [MinimumStake, MaximumStake].
func (l *Ledger) Register(address string, stake math.Int, metadata string, now time.Time) error {
	if stake.IsNil() || stake.LT(l.params.MinimumStake) {
		return errorsmod.Wrapf(types.ErrInsufficientStake,
			"stake %s below minimum %s", stake, l.params.MinimumStake)
	}
	if stake.GT(l.params.MaximumStake) {
		return errorsmod.Wrapf(types.ErrExceedsMaximum,
			"stake %s above maximum %s", stake, l.params.MaximumStake)
	}

	mu := l.lock(address)
	mu.Lock()
	defer mu.Unlock()

	existing, ok, err := l.st.GetAccount(address)
	if err != nil {
		return err
	}
	if ok && existing.Status != types.StatusDeregistered {
		return errorsmod.Wrap(types.ErrAlreadyRegistered, address)
	}

	acct := types.OracleAccount{
		Address:        address,
		StakedAmount:   stake,
		ReputationBps:  types.MaxReputationBps,
		SlashedAmount:  math.ZeroInt(),
		RewardsOwed:    math.ZeroInt(),
		Status:         types.StatusActive,
		LastActivityAt: now.Unix(),
		Metadata:       metadata,
	}
	if err := l.st.SetAccount(acct); err != nil {
		return err
	}
	metrics.Get().OracleReputation.WithLabelValues(address).Set(float64(acct.ReputationBps))
	l.emitter.Emit(types.EventTypeOracleRegistered, events.SeverityInfo, map[string]string{
		types.AttributeKeyOracle: address,
		types.AttributeKeyAmount: stake.String(),
	})
	l.logger.Info("oracle registered", "address", address, "stake", stake.String())
	return nil
}

// Deregister releases an oracle. Blocked while any pending dispute references
// one of its slashing events. The remaining stake is returned out of band;
// the ledger only zeroes it.
func (l *Ledger) Deregister(address string) (math.Int, error) {
	mu := l.lock(address)
	mu.Lock()
	defer mu.Unlock()

	acct, ok, err := l.st.GetAccount(address)
	if err != nil {
		return math.ZeroInt(), err
	}
	if !ok || acct.Status == types.StatusDeregistered {
		return math.ZeroInt(), errorsmod.Wrap(types.ErrOracleNotFound, address)
	}
	open, err := l.st.HasOpenDisputeAgainst(address)
	if err != nil {
		return math.ZeroInt(), err
	}
	if open {
		return math.ZeroInt(), errorsmod.Wrap(types.ErrOpenDisputes, address)
	}

	returned := acct.StakedAmount
	acct.StakedAmount = math.ZeroInt()
	acct.Status = types.StatusDeregistered
	if err := l.st.SetAccount(acct); err != nil {
		return math.ZeroInt(), err
	}
	l.logger.Info("oracle deregistered", "address", address, "returned", returned.String())
	return returned, nil
}

// IncreaseStake tops up an oracle's stake, reactivating a suspended account
// once it clears the minimum again.
func (l *Ledger) IncreaseStake(address string, amount math.Int, now time.Time) error {
	if amount.IsNil() || !amount.IsPositive() {
		return errorsmod.Wrap(types.ErrInsufficientStake, "top-up must be positive")
	}

	mu := l.lock(address)
	mu.Lock()
	defer mu.Unlock()

	acct, ok, err := l.st.GetAccount(address)
	if err != nil {
		return err
	}
	if !ok || acct.Status == types.StatusDeregistered {
		return errorsmod.Wrap(types.ErrOracleNotFound, address)
	}
	next := acct.StakedAmount.Add(amount)
	if next.GT(l.params.MaximumStake) {
		return errorsmod.Wrapf(types.ErrExceedsMaximum,
			"stake %s above maximum %s", next, l.params.MaximumStake)
	}
	acct.StakedAmount = next
	acct.LastActivityAt = now.Unix()
	if acct.Status == types.StatusSuspended && next.GTE(l.params.MinimumStake) {
		acct.Status = types.StatusActive
		l.logger.Info("oracle reactivated", "address", address, "stake", next.String())
	}
	return l.st.SetAccount(acct)
}

// RecordValid credits an accepted report. Idempotent per (oracle, feed,
// round): a second credit for the same round returns ErrDuplicateReport.
func (l *Ledger) RecordValid(address, feedID string, round uint64, now time.Time) error {
	mu := l.lock(address)
	mu.Lock()
	defer mu.Unlock()

	acct, ok, err := l.st.GetAccount(address)
	if err != nil {
		return err
	}
	if !ok || acct.Status == types.StatusDeregistered {
		return errorsmod.Wrap(types.ErrOracleNotFound, address)
	}

	// Stored value is round+1 so the zero default means "never rewarded".
	last, err := l.st.GetLastRewardedRound(address, feedID)
	if err != nil {
		return err
	}
	if round+1 <= last {
		return errorsmod.Wrapf(types.ErrDuplicateReport,
			"oracle %s feed %s round %d", address, feedID, round)
	}

	acct.TotalReports++
	acct.ValidReports++
	acct.ReputationBps = clampReputation(acct.ReputationBps + l.params.ReputationRewardBps)
	acct.RewardsOwed = acct.RewardsOwed.Add(l.params.RewardPerReport)
	acct.LastActivityAt = now.Unix()
	if err := l.st.SetAccount(acct); err != nil {
		return err
	}
	if err := l.st.SetLastRewardedRound(address, feedID, round+1); err != nil {
		return err
	}
	metrics.Get().OracleReputation.WithLabelValues(address).Set(float64(acct.ReputationBps))
	return nil
}

// Slash penalizes an oracle. The base amount is
// max(stake * SlashPercentageBps/10000, SlashFloorAmount); PRICE_DEVIATION
// slashes scale it by deviation/threshold capped at 10x. The result never
// exceeds the remaining stake. A slash within MinSlashIntervalSeconds of the
// previous one is skipped (applied=false) so one bad round does not cascade.
func (l *Ledger) Slash(address, feedID string, reason types.SlashReason, deviationBps int64, now time.Time) (types.SlashingEvent, bool, error) {
	mu := l.lock(address)
	mu.Lock()
	defer mu.Unlock()

	acct, ok, err := l.st.GetAccount(address)
	if err != nil {
		return types.SlashingEvent{}, false, err
	}
	if !ok || acct.Status == types.StatusDeregistered {
		return types.SlashingEvent{}, false, errorsmod.Wrap(types.ErrOracleNotFound, address)
	}
	if acct.LastSlashedAt > 0 && now.Unix()-acct.LastSlashedAt < l.params.MinSlashIntervalSeconds {
		l.logger.Debug("slash skipped, within minimum interval",
			"address", address, "last_slashed_at", acct.LastSlashedAt)
		return types.SlashingEvent{}, false, nil
	}

	amount := l.slashAmount(acct.StakedAmount, reason, deviationBps)

	repBefore := acct.ReputationBps

	acct.StakedAmount = acct.StakedAmount.Sub(amount)
	acct.SlashedAmount = acct.SlashedAmount.Add(amount)
	acct.TotalReports++
	acct.InvalidReports++
	acct.ReputationBps = clampReputation(
		acct.ReputationBps - acct.ReputationBps*l.params.ReputationDecayBps/10000)
	acct.LastSlashedAt = now.Unix()

	suspended := false
	if acct.Status == types.StatusActive && acct.StakedAmount.LT(l.params.MinimumStake) {
		acct.Status = types.StatusSuspended
		suspended = true
	}
	if err := l.st.SetAccount(acct); err != nil {
		return types.SlashingEvent{}, false, err
	}
	if err := l.treasury.Deposit(amount); err != nil {
		return types.SlashingEvent{}, false, err
	}

	ev := types.SlashingEvent{
		ID:                uuid.NewString(),
		Oracle:            address,
		FeedID:            feedID,
		Amount:            amount,
		Reason:            reason,
		DeviationBps:      deviationBps,
		ReputationLossBps: repBefore - acct.ReputationBps,
		Timestamp:         now.Unix(),
	}
	if err := l.st.SetSlashingEvent(ev); err != nil {
		return types.SlashingEvent{}, false, err
	}

	m := metrics.Get()
	m.SlashesTotal.WithLabelValues(string(reason)).Inc()
	amtF, _ := amount.ToLegacyDec().Float64()
	m.SlashedAmount.WithLabelValues(string(reason)).Add(amtF)
	m.OracleReputation.WithLabelValues(address).Set(float64(acct.ReputationBps))

	l.emitter.Emit(types.EventTypeSourceSlashed, events.SeverityWarning, map[string]string{
		types.AttributeKeyOracle:    address,
		types.AttributeKeyFeedID:    feedID,
		types.AttributeKeyAmount:    amount.String(),
		types.AttributeKeyReason:    string(reason),
		types.AttributeKeyDeviation: strconv.FormatInt(deviationBps, 10),
	})
	if suspended {
		l.emitter.Emit(types.EventTypeOracleSuspended, events.SeverityCritical, map[string]string{
			types.AttributeKeyOracle: address,
			types.AttributeKeyAmount: acct.StakedAmount.String(),
		})
		l.logger.Warn("oracle suspended, stake below minimum",
			"address", address, "stake", acct.StakedAmount.String())
	}
	l.logger.Info("oracle slashed",
		"address", address, "feed", feedID, "reason", reason,
		"amount", amount.String(), "deviation_bps", deviationBps)
	return ev, true, nil
}

func (l *Ledger) slashAmount(stake math.Int, reason types.SlashReason, deviationBps int64) math.Int {
	base := stake.MulRaw(l.params.SlashPercentageBps).QuoRaw(10000)
	if base.LT(l.params.SlashFloorAmount) {
		base = l.params.SlashFloorAmount
	}
	if reason == types.ReasonPriceDeviation && l.params.PriceDeviationThresholdBps > 0 {
		multiplier := deviationBps / l.params.PriceDeviationThresholdBps
		if multiplier > 10 {
			multiplier = 10
		}
		if multiplier > 1 {
			base = base.MulRaw(multiplier)
		}
	}
	if base.GT(stake) {
		base = stake
	}
	return base
}

// SlashInactive penalizes every active oracle whose last activity is older
// than InactivityPeriodSeconds. Returns the slashed addresses.
func (l *Ledger) SlashInactive(now time.Time) ([]string, error) {
	accounts, err := l.st.ListAccounts()
	if err != nil {
		return nil, err
	}
	var slashed []string
	for _, acct := range accounts {
		if acct.Status != types.StatusActive {
			continue
		}
		if now.Unix()-acct.LastActivityAt <= l.params.InactivityPeriodSeconds {
			continue
		}
		_, applied, err := l.Slash(acct.Address, "", types.ReasonInactivity, 0, now)
		if err != nil {
			return slashed, err
		}
		if applied {
			slashed = append(slashed, acct.Address)
		}
	}
	return slashed, nil
}

// GetAccount returns the current state of one oracle.
func (l *Ledger) GetAccount(address string) (types.OracleAccount, error) {
	acct, ok, err := l.st.GetAccount(address)
	if err != nil {
		return types.OracleAccount{}, err
	}
	if !ok {
		return types.OracleAccount{}, errorsmod.Wrap(types.ErrOracleNotFound, address)
	}
	return acct, nil
}

// SlashingHistory returns the audit trail for one oracle, or all events when
// address is empty.
func (l *Ledger) SlashingHistory(address string) ([]types.SlashingEvent, error) {
	return l.st.ListSlashingEvents(address)
}

func clampReputation(bps int64) int64 {
	if bps < 0 {
		return 0
	}
	if bps > types.MaxReputationBps {
		return types.MaxReputationBps
	}
	return bps
}
