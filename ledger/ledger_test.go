package ledger

import (
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/store"
	"github.com/quorumfeed/quorumfeed/types"
)

func testLedger(t *testing.T) (*Ledger, *store.Store) {
	t.Helper()
	st := store.NewMem(100)
	t.Cleanup(func() { st.Close() })
	em := events.NewEmitter(log.NewNopLogger(), 256, 1)
	t.Cleanup(em.Close)
	return New(log.NewNopLogger(), st, types.DefaultParams(), em, nil), st
}

func TestRegisterBounds(t *testing.T) {
	l, _ := testLedger(t)
	now := time.Now()

	err := l.Register("o1", math.NewInt(100), "", now)
	require.ErrorIs(t, err, types.ErrInsufficientStake)

	err = l.Register("o1", math.NewInt(2_000_000_000), "", now)
	require.ErrorIs(t, err, types.ErrExceedsMaximum)

	require.NoError(t, l.Register("o1", math.NewInt(5_000_000), "dc-west", now))
	err = l.Register("o1", math.NewInt(5_000_000), "", now)
	require.ErrorIs(t, err, types.ErrAlreadyRegistered)

	acct, err := l.GetAccount("o1")
	require.NoError(t, err)
	require.Equal(t, types.MaxReputationBps, acct.ReputationBps)
	require.Equal(t, types.StatusActive, acct.Status)
}

func TestSlashAmountAndAudit(t *testing.T) {
	l, _ := testLedger(t)
	now := time.Now()
	require.NoError(t, l.Register("o1", math.NewInt(10_000_000), "", now))

	ev, applied, err := l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 1200, now)
	require.NoError(t, err)
	require.True(t, applied)
	// 5% of 10M = 500k, deviation 1200/1000 -> 1x multiplier (integer division).
	require.True(t, ev.Amount.Equal(math.NewInt(500_000)), "got %s", ev.Amount)
	require.Equal(t, types.ReasonPriceDeviation, ev.Reason)
	require.False(t, ev.Reversed)

	acct, err := l.GetAccount("o1")
	require.NoError(t, err)
	require.True(t, acct.StakedAmount.Equal(math.NewInt(9_500_000)))
	require.True(t, acct.SlashedAmount.Equal(math.NewInt(500_000)))
	require.Equal(t, uint64(1), acct.InvalidReports)
	// 10% reputation decay from 10000.
	require.Equal(t, int64(9000), acct.ReputationBps)

	history, err := l.SlashingHistory("o1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestSlashDeviationMultiplierCapped(t *testing.T) {
	l, _ := testLedger(t)
	now := time.Now()
	require.NoError(t, l.Register("o1", math.NewInt(100_000_000), "", now))

	// Deviation 50x the threshold still caps the multiplier at 10x.
	ev, applied, err := l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 50_000, now)
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, ev.Amount.Equal(math.NewInt(50_000_000)), "got %s", ev.Amount)
}

func TestSlashNeverExceedsStake(t *testing.T) {
	params := types.DefaultParams()
	params.MinimumStake = math.NewInt(1000)
	st := store.NewMem(100)
	defer st.Close()
	em := events.NewEmitter(log.NewNopLogger(), 64, 1)
	defer em.Close()
	l := New(log.NewNopLogger(), st, params, em, nil)
	now := time.Now()

	// Tiny stake: the floor amount exceeds the whole stake.
	require.NoError(t, l.Register("o1", math.NewInt(2000), "", now))
	ev, applied, err := l.Slash("o1", "ATOM/USD", types.ReasonInactivity, 0, now)
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, ev.Amount.Equal(math.NewInt(2000)))

	acct, err := l.GetAccount("o1")
	require.NoError(t, err)
	require.True(t, acct.StakedAmount.IsZero())
	require.False(t, acct.StakedAmount.IsNegative())
}

func TestSlashAutoSuspendsBelowMinimum(t *testing.T) {
	params := types.DefaultParams()
	params.SlashPercentageBps = 5000 // 50% per slash
	params.MinSlashIntervalSeconds = 0
	st := store.NewMem(100)
	defer st.Close()
	em := events.NewEmitter(log.NewNopLogger(), 64, 1)
	defer em.Close()
	l := New(log.NewNopLogger(), st, params, em, nil)
	now := time.Now()

	require.NoError(t, l.Register("o1", math.NewInt(1_500_000), "", now))

	_, applied, err := l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 1000, now)
	require.NoError(t, err)
	require.True(t, applied)

	acct, err := l.GetAccount("o1")
	require.NoError(t, err)
	require.Equal(t, types.StatusSuspended, acct.Status)
	require.True(t, acct.StakedAmount.LT(params.MinimumStake))

	// Topping back above the minimum reactivates.
	require.NoError(t, l.IncreaseStake("o1", math.NewInt(1_000_000), now))
	acct, err = l.GetAccount("o1")
	require.NoError(t, err)
	require.Equal(t, types.StatusActive, acct.Status)
}

func TestSlashMinimumInterval(t *testing.T) {
	l, _ := testLedger(t)
	now := time.Now()
	require.NoError(t, l.Register("o1", math.NewInt(10_000_000), "", now))

	_, applied, err := l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 1000, now)
	require.NoError(t, err)
	require.True(t, applied)

	// Immediately after: skipped, not an error.
	_, applied, err = l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 1000, now.Add(5*time.Second))
	require.NoError(t, err)
	require.False(t, applied)

	// After the interval: applied again.
	_, applied, err = l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 1000, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, applied)
}

func TestRecordValidIdempotentPerRound(t *testing.T) {
	l, _ := testLedger(t)
	now := time.Now()
	require.NoError(t, l.Register("o1", math.NewInt(5_000_000), "", now))

	require.NoError(t, l.RecordValid("o1", "ATOM/USD", 1, now))
	err := l.RecordValid("o1", "ATOM/USD", 1, now)
	require.ErrorIs(t, err, types.ErrDuplicateReport)
	require.NoError(t, l.RecordValid("o1", "ATOM/USD", 2, now))

	acct, err := l.GetAccount("o1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), acct.ValidReports)
	require.True(t, acct.RewardsOwed.Equal(math.NewInt(200)))
}

func TestSlashInactive(t *testing.T) {
	l, _ := testLedger(t)
	start := time.Now()
	require.NoError(t, l.Register("idle", math.NewInt(5_000_000), "", start))
	require.NoError(t, l.Register("busy", math.NewInt(5_000_000), "", start))

	later := start.Add(25 * time.Hour)
	require.NoError(t, l.RecordValid("busy", "ATOM/USD", 1, later))

	slashed, err := l.SlashInactive(later)
	require.NoError(t, err)
	require.Equal(t, []string{"idle"}, slashed)

	acct, err := l.GetAccount("idle")
	require.NoError(t, err)
	require.True(t, acct.SlashedAmount.IsPositive())
}

func TestDeregisterBlockedByOpenDispute(t *testing.T) {
	l, _ := testLedger(t)
	now := time.Now()
	require.NoError(t, l.Register("o1", math.NewInt(10_000_000), "", now))

	ev, _, err := l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 1000, now)
	require.NoError(t, err)
	d, err := l.CreateDispute("challenger", ev.ID, now)
	require.NoError(t, err)

	_, err = l.Deregister("o1")
	require.ErrorIs(t, err, types.ErrOpenDisputes)

	_, err = l.ResolveDispute(d.ID, false, now)
	require.NoError(t, err)

	returned, err := l.Deregister("o1")
	require.NoError(t, err)
	require.True(t, returned.Equal(math.NewInt(9_500_000)))
}

func TestDisputeApproveReversesSlash(t *testing.T) {
	l, st := testLedger(t)
	now := time.Now()
	require.NoError(t, l.Register("o1", math.NewInt(10_000_000), "", now))

	ev, _, err := l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 1000, now)
	require.NoError(t, err)
	require.Equal(t, int64(1000), ev.ReputationLossBps)

	slashed, err := l.GetAccount("o1")
	require.NoError(t, err)
	require.Equal(t, int64(9000), slashed.ReputationBps)

	d, err := l.CreateDispute("challenger", ev.ID, now.Add(time.Hour))
	require.NoError(t, err)

	resolved, err := l.ResolveDispute(d.ID, true, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, types.DisputeApproved, resolved.Status)

	acct, err := l.GetAccount("o1")
	require.NoError(t, err)
	require.True(t, acct.StakedAmount.Equal(math.NewInt(10_000_000)))
	require.True(t, acct.SlashedAmount.IsZero())
	require.Equal(t, uint64(0), acct.InvalidReports)
	// Reversal restores the reputation the slash removed.
	require.Equal(t, types.MaxReputationBps, acct.ReputationBps)

	got, ok, err := st.GetSlashingEvent(ev.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Reversed)

	// Resolving twice fails.
	_, err = l.ResolveDispute(d.ID, true, now.Add(3*time.Hour))
	require.ErrorIs(t, err, types.ErrDisputeResolved)
}

func TestDisputeWindowExpired(t *testing.T) {
	l, _ := testLedger(t)
	now := time.Now()
	require.NoError(t, l.Register("o1", math.NewInt(10_000_000), "", now))

	ev, _, err := l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, 1000, now)
	require.NoError(t, err)

	_, err = l.CreateDispute("challenger", ev.ID, now.Add(8*24*time.Hour))
	require.ErrorIs(t, err, types.ErrDisputeWindowExpired)
}

// Reputation stays within [0, 10000] under any interleaving of valid reports
// and slashes.
func TestReputationBoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		params := types.DefaultParams()
		params.MinSlashIntervalSeconds = 0
		params.MinimumStake = math.NewInt(1)
		st := store.NewMem(100)
		defer st.Close()
		em := events.NewEmitter(log.NewNopLogger(), 1024, 1)
		defer em.Close()
		l := New(log.NewNopLogger(), st, params, em, nil)

		now := time.Unix(1_700_000_000, 0)
		if err := l.Register("o1", math.NewInt(1_000_000), "", now); err != nil {
			t.Fatalf("register: %v", err)
		}

		steps := rapid.SliceOfN(rapid.Bool(), 1, 60).Draw(t, "steps")
		round := uint64(0)
		for _, valid := range steps {
			now = now.Add(time.Second)
			if valid {
				round++
				if err := l.RecordValid("o1", "ATOM/USD", round, now); err != nil {
					t.Fatalf("record valid: %v", err)
				}
			} else {
				dev := rapid.Int64Range(0, 100_000).Draw(t, "dev")
				if _, _, err := l.Slash("o1", "ATOM/USD", types.ReasonPriceDeviation, dev, now); err != nil {
					t.Fatalf("slash: %v", err)
				}
			}
			acct, err := l.GetAccount("o1")
			if err != nil {
				t.Fatalf("get account: %v", err)
			}
			if acct.ReputationBps < 0 || acct.ReputationBps > types.MaxReputationBps {
				t.Fatalf("reputation out of bounds: %d", acct.ReputationBps)
			}
			if acct.StakedAmount.IsNegative() {
				t.Fatalf("negative stake: %s", acct.StakedAmount)
			}
		}
	})
}
