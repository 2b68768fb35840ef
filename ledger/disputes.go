package ledger

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/metrics"
	"github.com/quorumfeed/quorumfeed/types"
)

// CreateDispute opens a challenge against a slashing event. The challenger
// posts DisputeStake up front; it is returned on approval and forfeited to
// the treasury on rejection. Disputes must be opened within the dispute
// period of the original slash.
func (l *Ledger) CreateDispute(challenger, slashingEventID string, now time.Time) (types.Dispute, error) {
	ev, ok, err := l.st.GetSlashingEvent(slashingEventID)
	if err != nil {
		return types.Dispute{}, err
	}
	if !ok {
		return types.Dispute{}, errorsmod.Wrap(types.ErrSlashEventNotFound, slashingEventID)
	}
	if ev.Reversed {
		return types.Dispute{}, errorsmod.Wrap(types.ErrDisputeResolved, "slash already reversed")
	}
	if now.Unix()-ev.Timestamp > l.params.DisputePeriodSeconds {
		return types.Dispute{}, errorsmod.Wrapf(types.ErrDisputeWindowExpired,
			"slash at %d, window %ds", ev.Timestamp, l.params.DisputePeriodSeconds)
	}

	d := types.Dispute{
		ID:              uuid.NewString(),
		SlashingEventID: slashingEventID,
		Challenger:      challenger,
		DisputeStake:    l.params.DisputeStake,
		Status:          types.DisputePending,
		CreatedAt:       now.Unix(),
	}
	if err := l.st.SetDispute(d); err != nil {
		return types.Dispute{}, err
	}
	if err := l.treasury.Deposit(l.params.DisputeStake); err != nil {
		return types.Dispute{}, err
	}
	l.logger.Info("dispute opened",
		"dispute", d.ID, "slash_event", slashingEventID, "challenger", challenger)
	return d, nil
}

// ResolveDispute adjudicates a pending dispute. Approval reverses the slash:
// the slashed amount moves from the treasury back into the oracle's stake,
// the reputation removed by the slash is restored, the audit event is marked
// reversed, and the dispute stake is returned.
// Rejection forfeits the dispute stake to the treasury where it already sits.
func (l *Ledger) ResolveDispute(disputeID string, approve bool, now time.Time) (types.Dispute, error) {
	d, ok, err := l.st.GetDispute(disputeID)
	if err != nil {
		return types.Dispute{}, err
	}
	if !ok {
		return types.Dispute{}, errorsmod.Wrap(types.ErrDisputeNotFound, disputeID)
	}
	if d.Status != types.DisputePending {
		return types.Dispute{}, errorsmod.Wrapf(types.ErrDisputeResolved,
			"dispute %s already %s", disputeID, d.Status)
	}

	if approve {
		if err := l.reverseSlash(d.SlashingEventID); err != nil {
			return types.Dispute{}, err
		}
		if err := l.treasury.Withdraw(d.DisputeStake); err != nil {
			return types.Dispute{}, err
		}
		d.Status = types.DisputeApproved
	} else {
		d.Status = types.DisputeRejected
	}
	d.ResolvedAt = now.Unix()
	if err := l.st.SetDispute(d); err != nil {
		return types.Dispute{}, err
	}

	l.emitter.Emit(types.EventTypeDisputeResolved, events.SeverityInfo, map[string]string{
		types.AttributeKeyDisputeID: d.ID,
		types.AttributeKeyApproved:  boolString(approve),
	})
	l.logger.Info("dispute resolved", "dispute", d.ID, "approved", approve)
	return d, nil
}

func (l *Ledger) reverseSlash(slashingEventID string) error {
	ev, ok, err := l.st.GetSlashingEvent(slashingEventID)
	if err != nil {
		return err
	}
	if !ok {
		return errorsmod.Wrap(types.ErrSlashEventNotFound, slashingEventID)
	}
	if ev.Reversed {
		return nil
	}

	mu := l.lock(ev.Oracle)
	mu.Lock()
	defer mu.Unlock()

	acct, ok, err := l.st.GetAccount(ev.Oracle)
	if err != nil {
		return err
	}
	if !ok {
		return errorsmod.Wrap(types.ErrOracleNotFound, ev.Oracle)
	}

	acct.StakedAmount = acct.StakedAmount.Add(ev.Amount)
	acct.SlashedAmount = acct.SlashedAmount.Sub(ev.Amount)
	acct.ReputationBps = clampReputation(acct.ReputationBps + ev.ReputationLossBps)
	if acct.InvalidReports > 0 {
		acct.InvalidReports--
	}
	if acct.Status == types.StatusSuspended && acct.StakedAmount.GTE(l.params.MinimumStake) {
		acct.Status = types.StatusActive
		l.logger.Info("oracle reactivated after dispute", "address", ev.Oracle)
	}
	if err := l.st.SetAccount(acct); err != nil {
		return err
	}
	if err := l.treasury.Withdraw(ev.Amount); err != nil {
		return err
	}
	metrics.Get().OracleReputation.WithLabelValues(ev.Oracle).Set(float64(acct.ReputationBps))

	ev.Reversed = true
	return l.st.SetSlashingEvent(ev)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
