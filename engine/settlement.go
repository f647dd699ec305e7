package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiptop/tip-engine/tips"
)

// =============================================================================
// SETTLEMENT
// =============================================================================
//
// MarkPeriodsAsPaid runs in two phases:
//
//   1. prepare: pure computation over a snapshot of periods and members
//      (distribute, default or override actual amounts, reconcile)
//   2. commit:  one transaction marks periods paid, writes balances,
//      deletes the settled hour registrations and appends the payout
//
// If commit fails the prepared settlement is kept per team. Retrying commits
// the same numbers again; nothing is recomputed, so a retry can't produce a
// different payout from the one that failed.

// SettleRequest selects the periods to pay out. Overrides replace the
// default actual amount for individual members.
type SettleRequest struct {
	PeriodIDs []tips.PeriodID
	Overrides map[tips.MemberID]decimal.Decimal
}

// PreviewRequest is a SettleRequest with an optional rounding step that
// replaces the team setting for this preview only.
type PreviewRequest struct {
	SettleRequest
	RoundingStep *tips.RoundingStep
}

type pendingSettlement struct {
	payout tips.PayoutData
	// registrations that were counted, deleted on commit. Hours registered
	// after the snapshot survive the settlement.
	registrations map[tips.MemberID][]tips.RegistrationID
}

// CalculateTipDistribution previews each member's share of the tips in the
// given periods. Nothing is written.
func (e *Engine) CalculateTipDistribution(ctx context.Context, teamID tips.TeamID, periodIDs []tips.PeriodID) ([]tips.Share, error) {
	periods, err := resolvePeriods(ctx, e.store, teamID, periodIDs)
	if err != nil {
		return nil, err
	}
	members, err := e.store.ListMembers(ctx, teamID)
	if err != nil {
		return nil, tips.Persistence("list members", err)
	}
	return tips.Distribute(periods, members), nil
}

// CalculateAverageTipPerHour is total tips over total hours. With no period
// ids every unpaid period of the team is included.
func (e *Engine) CalculateAverageTipPerHour(ctx context.Context, teamID tips.TeamID, periodIDs []tips.PeriodID) (decimal.Decimal, error) {
	var periods []tips.Period
	if len(periodIDs) == 0 {
		all, err := e.store.ListPeriods(ctx, teamID)
		if err != nil {
			return decimal.Zero, tips.Persistence("list periods", err)
		}
		for _, p := range all {
			if !p.IsPaid {
				periods = append(periods, p)
			}
		}
	} else {
		var err error
		if periods, err = resolvePeriods(ctx, e.store, teamID, periodIDs); err != nil {
			return decimal.Zero, err
		}
	}

	members, err := e.store.ListMembers(ctx, teamID)
	if err != nil {
		return decimal.Zero, tips.Persistence("list members", err)
	}
	return tips.AverageTipPerHour(periods, members), nil
}

// PreviewPayout computes the payout MarkPeriodsAsPaid would produce, with an
// optional rounding step. Active periods may be previewed; paid ones may not.
func (e *Engine) PreviewPayout(ctx context.Context, teamID tips.TeamID, req PreviewRequest) (tips.PayoutData, error) {
	settings, err := e.loadSettings(ctx, e.store, teamID)
	if err != nil {
		return tips.PayoutData{}, err
	}
	step := settings.RoundingStep
	if req.RoundingStep != nil {
		if step, err = tips.ParseRoundingStep(string(*req.RoundingStep)); err != nil {
			return tips.PayoutData{}, err
		}
	}

	ps, err := e.prepare(ctx, e.store, teamID, req.SettleRequest, step, false)
	if err != nil {
		return tips.PayoutData{}, err
	}
	ps.payout.ID = ""
	return ps.payout, nil
}

// MarkPeriodsAsPaid settles closed, unpaid periods and returns the payout
// snapshot. On a storage failure it returns a PersistenceError and keeps the
// computed settlement for RetryPendingSettlement.
func (e *Engine) MarkPeriodsAsPaid(ctx context.Context, teamID tips.TeamID, req SettleRequest) (tips.PayoutData, error) {
	unlock := e.lockTeam(teamID)
	defer unlock()

	settings, err := e.loadSettings(ctx, e.store, teamID)
	if err != nil {
		return tips.PayoutData{}, err
	}
	ps, err := e.prepare(ctx, e.store, teamID, req, settings.RoundingStep, true)
	if err != nil {
		return tips.PayoutData{}, err
	}
	return e.settle(ctx, teamID, ps)
}

// RetryPendingSettlement commits the team's last failed settlement again.
func (e *Engine) RetryPendingSettlement(ctx context.Context, teamID tips.TeamID) (tips.PayoutData, error) {
	unlock := e.lockTeam(teamID)
	defer unlock()

	ps := e.getPending(teamID)
	if ps == nil {
		return tips.PayoutData{}, fmt.Errorf("team %s: %w", teamID, tips.ErrNoPendingSettlement)
	}
	e.log.Info("retrying settlement", "team", teamID, "payout", ps.payout.ID)
	return e.settle(ctx, teamID, ps)
}

// PendingSettlement returns the payout waiting for a retry, if any.
func (e *Engine) PendingSettlement(teamID tips.TeamID) (tips.PayoutData, bool) {
	ps := e.getPending(teamID)
	if ps == nil {
		return tips.PayoutData{}, false
	}
	return ps.payout.Clone(), true
}

func (e *Engine) ListPayouts(ctx context.Context, teamID tips.TeamID) ([]tips.PayoutData, error) {
	payouts, err := e.store.ListPayouts(ctx, teamID)
	if err != nil {
		return nil, tips.Persistence("list payouts", err)
	}
	return payouts, nil
}

// =============================================================================
// PREPARE - Pure computation over a snapshot
// =============================================================================

func (e *Engine) prepare(ctx context.Context, st tips.Store, teamID tips.TeamID, req SettleRequest, step tips.RoundingStep, requireClosed bool) (*pendingSettlement, error) {
	periods, err := resolvePeriods(ctx, st, teamID, req.PeriodIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range periods {
		if p.IsPaid || (requireClosed && p.IsActive) {
			return nil, &tips.StateConflictError{PeriodID: p.ID, State: p.Status(), Operation: "settle"}
		}
	}

	members, err := st.ListMembers(ctx, teamID)
	if err != nil {
		return nil, tips.Persistence("list members", err)
	}
	if err := validateOverrides(req.Overrides, members); err != nil {
		return nil, err
	}

	return buildSettlement(tips.PayoutID(e.newID()), teamID, periods, members, step, req.Overrides, e.clock.Now()), nil
}

func buildSettlement(id tips.PayoutID, teamID tips.TeamID, periods []tips.Period, members []tips.TeamMember,
	step tips.RoundingStep, overrides map[tips.MemberID]decimal.Decimal, now time.Time) *pendingSettlement {

	shares := tips.AllocateCents(tips.Distribute(periods, members), tips.TotalTips(periods))

	prior := make(map[tips.MemberID]decimal.Decimal, len(members))
	actual := make(map[tips.MemberID]decimal.Decimal, len(members))
	for i, m := range members {
		prior[m.ID] = m.Balance
		if v, ok := overrides[m.ID]; ok {
			actual[m.ID] = v
		} else {
			actual[m.ID] = tips.DefaultActualAmount(shares[i].TipAmount.Add(m.Balance), step)
		}
	}
	balances := tips.Reconcile(tips.Allocations(shares), prior, actual)

	ps := &pendingSettlement{
		payout: tips.PayoutData{
			ID:           id,
			TeamID:       teamID,
			Date:         now,
			RoundingStep: step,
			Items:        make([]tips.PayoutDistributionItem, len(members)),
		},
		registrations: make(map[tips.MemberID][]tips.RegistrationID),
	}
	for _, p := range periods {
		ps.payout.PeriodIDs = append(ps.payout.PeriodIDs, p.ID)
	}
	for i, m := range members {
		ps.payout.Items[i] = tips.PayoutDistributionItem{
			MemberID:     m.ID,
			MemberName:   m.Name,
			Hours:        m.Hours(),
			Amount:       shares[i].TipAmount,
			PriorBalance: m.Balance,
			ActualAmount: actual[m.ID],
			Balance:      balances[i].Balance,
		}
		for _, r := range m.Registrations {
			ps.registrations[m.ID] = append(ps.registrations[m.ID], r.ID)
		}
	}
	return ps
}

func validateOverrides(overrides map[tips.MemberID]decimal.Decimal, members []tips.TeamMember) error {
	known := make(map[tips.MemberID]bool, len(members))
	for _, m := range members {
		known[m.ID] = true
	}
	for id, v := range overrides {
		if !known[id] {
			return &tips.ValidationError{Field: "overrides", Message: fmt.Sprintf("unknown member %s", id)}
		}
		if v.IsNegative() {
			return &tips.ValidationError{Field: "overrides", Message: fmt.Sprintf("amount for %s must not be negative", id)}
		}
		if !v.Equal(v.Round(2)) {
			return &tips.ValidationError{Field: "overrides", Message: fmt.Sprintf("amount for %s has fractions of a cent", id)}
		}
	}
	return nil
}

// resolvePeriods loads the periods in request order, dropping duplicate ids.
func resolvePeriods(ctx context.Context, st tips.Store, teamID tips.TeamID, ids []tips.PeriodID) ([]tips.Period, error) {
	if len(ids) == 0 {
		return nil, &tips.ValidationError{Field: "period_ids", Message: "at least one period is required"}
	}
	seen := make(map[tips.PeriodID]bool, len(ids))
	periods := make([]tips.Period, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, err := st.GetPeriod(ctx, teamID, id)
		if err != nil {
			return nil, tips.Persistence("get period", err)
		}
		periods = append(periods, p)
	}
	return periods, nil
}

// =============================================================================
// COMMIT
// =============================================================================

func (e *Engine) settle(ctx context.Context, teamID tips.TeamID, ps *pendingSettlement) (tips.PayoutData, error) {
	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		return commit(ctx, tx, ps)
	})
	if err != nil {
		err = tips.Persistence("settle payout", err)
		if errors.Is(err, tips.ErrPersistence) {
			e.setPending(teamID, ps)
			e.metrics.settlementFailed()
			e.log.Error("settlement commit failed, kept for retry",
				"team", teamID, "payout", ps.payout.ID, "error", err)
		} else {
			// A conflict will not go away on retry.
			e.dropPending(teamID, ps)
		}
		return tips.PayoutData{}, err
	}

	e.dropPending(teamID, ps)
	total := ps.payout.TotalActual()
	f, _ := total.Float64()
	e.metrics.payoutSettled(f)
	e.log.Info("payout settled", "team", teamID, "payout", ps.payout.ID,
		"periods", len(ps.payout.PeriodIDs), "members", len(ps.payout.Items),
		"total_actual", total.StringFixed(2), "rounding_step", ps.payout.RoundingStep)
	return ps.payout.Clone(), nil
}

// commit re-checks period state and member balances inside the transaction.
// A retried settlement can never pay a period twice, and it can't overwrite
// a balance that another settlement moved after this one was computed.
func commit(ctx context.Context, tx tips.Store, ps *pendingSettlement) error {
	teamID := ps.payout.TeamID
	for _, id := range ps.payout.PeriodIDs {
		p, err := tx.GetPeriod(ctx, teamID, id)
		if err != nil {
			return err
		}
		if p.IsPaid || p.IsActive {
			return &tips.StateConflictError{PeriodID: p.ID, State: p.Status(), Operation: "settle"}
		}
		p.IsPaid = true
		if err := tx.UpdatePeriod(ctx, p); err != nil {
			return err
		}
	}

	for _, it := range ps.payout.Items {
		m, err := tx.GetMember(ctx, teamID, it.MemberID)
		if err != nil {
			return err
		}
		if !m.Balance.Equal(it.PriorBalance) {
			return &tips.StateConflictError{
				Operation: "settle",
				Reason:    fmt.Sprintf("balance of %s changed from %s to %s since payout %s was computed",
					it.MemberName, it.PriorBalance.StringFixed(2), m.Balance.StringFixed(2), ps.payout.ID),
			}
		}
		m.Balance = it.Balance
		if err := tx.SaveMember(ctx, m); err != nil {
			return err
		}
		if ids := ps.registrations[it.MemberID]; len(ids) > 0 {
			if err := tx.DeleteHourRegistrations(ctx, teamID, it.MemberID, ids); err != nil {
				return err
			}
		}
	}

	return tx.SavePayout(ctx, ps.payout.Clone())
}

func (e *Engine) getPending(teamID tips.TeamID) *pendingSettlement {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return e.pending[teamID]
}

func (e *Engine) setPending(teamID tips.TeamID, ps *pendingSettlement) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[teamID] = ps
}

// dropPending forgets ps if it is still the team's pending settlement. A
// different, newer failure stays queued.
func (e *Engine) dropPending(teamID tips.TeamID, ps *pendingSettlement) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if e.pending[teamID] == ps {
		delete(e.pending, teamID)
	}
}
