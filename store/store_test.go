package store

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/quorumfeed/quorumfeed/types"
)

func testFeed() types.Feed {
	return types.Feed{
		FeedID:           "ATOM/USD",
		MinSources:       3,
		MaxDeviationBps:  1000,
		StdDevCapBps:     20000,
		HeartbeatSeconds: 300,
		Decimals:         6,
		Enabled:          true,
	}
}

func TestFeedRoundTrip(t *testing.T) {
	s := NewMem(10)
	defer s.Close()

	_, ok, err := s.GetFeed("ATOM/USD")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetFeed(testFeed()))

	got, ok, err := s.GetFeed("ATOM/USD")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ATOM/USD", got.FeedID)
	require.Equal(t, uint32(3), got.MinSources)

	feeds, err := s.ListFeeds()
	require.NoError(t, err)
	require.Len(t, feeds, 1)
}

func TestObservationRingBounded(t *testing.T) {
	s := NewMem(5)
	defer s.Close()

	for i := 0; i < 12; i++ {
		obs := types.PriceObservation{
			FeedID:        "ATOM/USD",
			Submitter:     "oracle-1",
			Price:         math.LegacyNewDec(int64(100 + i)),
			Timestamp:     int64(1000 + i),
			ConfidenceBps: 9000,
		}
		stored, err := s.AppendObservation(obs)
		require.NoError(t, err)
		require.Equal(t, uint64(i), stored.Sequence)
	}

	count, err := s.ObservationCount("ATOM/USD")
	require.NoError(t, err)
	require.Equal(t, uint64(5), count)

	recent, err := s.RecentObservations("ATOM/USD", 0)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	// Oldest retained is the 8th append (sequence 7), newest is sequence 11.
	require.Equal(t, uint64(7), recent[0].Sequence)
	require.Equal(t, uint64(11), recent[4].Sequence)
	require.True(t, recent[4].Price.Equal(math.LegacyNewDec(111)))
}

func TestRecentObservationsLimit(t *testing.T) {
	s := NewMem(10)
	defer s.Close()

	for i := 0; i < 6; i++ {
		_, err := s.AppendObservation(types.PriceObservation{
			FeedID:        "ATOM/USD",
			Submitter:     "oracle-1",
			Price:         math.LegacyNewDec(int64(200 + i)),
			Timestamp:     int64(i),
			ConfidenceBps: 8000,
		})
		require.NoError(t, err)
	}

	recent, err := s.RecentObservations("ATOM/USD", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, uint64(3), recent[0].Sequence)
	require.Equal(t, uint64(5), recent[2].Sequence)
}

func TestRingsAreIndependentPerFeed(t *testing.T) {
	s := NewMem(4)
	defer s.Close()

	for _, feed := range []string{"ATOM/USD", "OSMO/USD"} {
		_, err := s.AppendObservation(types.PriceObservation{
			FeedID:        feed,
			Submitter:     "oracle-1",
			Price:         math.LegacyNewDec(10),
			Timestamp:     1,
			ConfidenceBps: 5000,
		})
		require.NoError(t, err)
	}

	seq, err := s.NextSequence("ATOM/USD")
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
	seq, err = s.NextSequence("OSMO/USD")
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
}

func TestTreasuryAccumulates(t *testing.T) {
	s := NewMem(10)
	defer s.Close()

	bal, err := s.TreasuryBalance()
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	require.NoError(t, s.AddToTreasury(math.NewInt(500)))
	require.NoError(t, s.AddToTreasury(math.NewInt(250)))

	bal, err = s.TreasuryBalance()
	require.NoError(t, err)
	require.True(t, bal.Equal(math.NewInt(750)))
}

func TestRewardedRoundDefaultsToZero(t *testing.T) {
	s := NewMem(10)
	defer s.Close()

	round, err := s.GetLastRewardedRound("oracle-1", "ATOM/USD")
	require.NoError(t, err)
	require.Equal(t, uint64(0), round)

	require.NoError(t, s.SetLastRewardedRound("oracle-1", "ATOM/USD", 7))
	round, err = s.GetLastRewardedRound("oracle-1", "ATOM/USD")
	require.NoError(t, err)
	require.Equal(t, uint64(7), round)
}

func TestAccountRoundTrip(t *testing.T) {
	s := NewMem(10)
	defer s.Close()

	acct := types.OracleAccount{
		Address:       "oracle-1",
		StakedAmount:  math.NewInt(1_000_000),
		ReputationBps: types.MaxReputationBps,
		SlashedAmount: math.ZeroInt(),
		RewardsOwed:   math.ZeroInt(),
		Status:        types.StatusActive,
	}
	require.NoError(t, s.SetAccount(acct))

	got, ok, err := s.GetAccount("oracle-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.StakedAmount.Equal(math.NewInt(1_000_000)))
	require.Equal(t, types.StatusActive, got.Status)
}
