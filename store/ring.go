package store

import (
	"encoding/binary"
	"encoding/json"

	errorsmod "cosmossdk.io/errors"

	"github.com/quorumfeed/quorumfeed/types"
)

// ringMeta tracks the write cursor for one feed's observation ring.
// Next is the total number of observations ever appended; it doubles as the
// next Sequence value. Count is min(Next, capacity).
type ringMeta struct {
	Next  uint64 `json:"next"`
	Count uint64 `json:"count"`
}

func obsKey(feedID string, slot uint64) []byte {
	k := key(prefixObservation, feedID+"/")
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, slot)
	return append(k, bz...)
}

func (s *Store) getRingMeta(feedID string) (ringMeta, error) {
	var m ringMeta
	_, err := s.getJSON(key(prefixRingMeta, feedID), &m)
	return m, err
}

// AppendObservation writes obs into the feed's ring, overwriting the oldest
// slot once the ring is full, and assigns the per-feed monotonic Sequence.
// Returns the stored observation with Sequence set.
func (s *Store) AppendObservation(obs types.PriceObservation) (types.PriceObservation, error) {
	m, err := s.getRingMeta(obs.FeedID)
	if err != nil {
		return obs, err
	}
	obs.Sequence = m.Next
	if err := s.setJSON(obsKey(obs.FeedID, m.Next%s.ringCapacity), obs); err != nil {
		return obs, err
	}
	m.Next++
	if m.Count < s.ringCapacity {
		m.Count++
	}
	if err := s.setJSON(key(prefixRingMeta, obs.FeedID), m); err != nil {
		return obs, err
	}
	return obs, nil
}

// RecentObservations returns up to n most recent observations for the feed in
// chronological order (oldest first). n <= 0 returns the whole ring.
func (s *Store) RecentObservations(feedID string, n int) ([]types.PriceObservation, error) {
	m, err := s.getRingMeta(feedID)
	if err != nil {
		return nil, err
	}
	count := m.Count
	if n > 0 && uint64(n) < count {
		count = uint64(n)
	}
	out := make([]types.PriceObservation, 0, count)
	for i := m.Next - count; i < m.Next; i++ {
		bz, err := s.db.Get(obsKey(feedID, i%s.ringCapacity))
		if err != nil {
			return nil, errorsmod.Wrapf(types.ErrStoreFailure, "read observation: %v", err)
		}
		if bz == nil {
			continue
		}
		var obs types.PriceObservation
		if err := json.Unmarshal(bz, &obs); err != nil {
			return nil, errorsmod.Wrapf(types.ErrStoreFailure, "decode observation: %v", err)
		}
		out = append(out, obs)
	}
	return out, nil
}

// ObservationCount reports how many observations the ring currently holds
// for the feed.
func (s *Store) ObservationCount(feedID string) (uint64, error) {
	m, err := s.getRingMeta(feedID)
	return m.Count, err
}

// NextSequence returns the sequence the next appended observation will get.
func (s *Store) NextSequence(feedID string) (uint64, error) {
	m, err := s.getRingMeta(feedID)
	return m.Next, err
}
