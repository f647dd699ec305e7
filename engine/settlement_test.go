package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiptop/tip-engine/engine"
	"github.com/tiptop/tip-engine/tips"
)

func ids(periods ...tips.Period) []tips.PeriodID {
	out := make([]tips.PeriodID, len(periods))
	for i, p := range periods {
		out[i] = p.ID
	}
	return out
}

// =============================================================================
// DISTRIBUTION PREVIEWS
// =============================================================================

func TestCalculateTipDistribution(t *testing.T) {
	f := newFixture(t)
	a := f.addMember(t, "A", "10", "")
	b := f.addMember(t, "B", "30", "")
	p := f.closedPeriod(t, "60", "40")

	shares, err := f.eng.CalculateTipDistribution(context.Background(), team, ids(p, p))
	require.NoError(t, err)

	require.Len(t, shares, 2)
	assert.Equal(t, a.ID, shares[0].MemberID)
	assertDecimal(t, "25", shares[0].TipAmount)
	assert.Equal(t, b.ID, shares[1].MemberID)
	assertDecimal(t, "75", shares[1].TipAmount, "duplicate period ids count once")
}

func TestCalculateTipDistribution_RequiresPeriods(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.CalculateTipDistribution(context.Background(), team, nil)
	assert.ErrorIs(t, err, tips.ErrValidation)

	_, err = f.eng.CalculateTipDistribution(context.Background(), team, []tips.PeriodID{"nope"})
	assert.True(t, tips.IsNotFound(err))
}

func TestCalculateAverageTipPerHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMember(t, "A", "10", "")
	f.addMember(t, "B", "30", "")
	p := f.closedPeriod(t, "100")
	_, err := f.eng.AddTip(ctx, team, "alice", engine.TipInput{Amount: d("20")})
	require.NoError(t, err)

	avg, err := f.eng.CalculateAverageTipPerHour(ctx, team, ids(p))
	require.NoError(t, err)
	assertDecimal(t, "2.5", avg)

	// Without ids every unpaid period counts, the active one included.
	avg, err = f.eng.CalculateAverageTipPerHour(ctx, team, nil)
	require.NoError(t, err)
	assertDecimal(t, "3", avg)
}

func TestPreviewPayout_DoesNotMutate(t *testing.T) {
	// GIVEN: members with hours and a closed period
	f := newFixture(t)
	ctx := context.Background()
	a := f.addMember(t, "A", "10", "5")
	f.addMember(t, "B", "30", "-2")
	p := f.closedPeriod(t, "100")
	step := tips.Round500

	// WHEN: previewing twice with a rounding step
	req := engine.PreviewRequest{SettleRequest: engine.SettleRequest{PeriodIDs: ids(p)}, RoundingStep: &step}
	first, err := f.eng.PreviewPayout(ctx, team, req)
	require.NoError(t, err)
	second, err := f.eng.PreviewPayout(ctx, team, req)
	require.NoError(t, err)

	// THEN: identical results and nothing persisted
	assert.Empty(t, first.ID)
	assert.Equal(t, first.Items, second.Items)
	assertDecimal(t, "30", itemFor(t, first, a.ID).ActualAmount)

	p, err = f.eng.GetPeriod(ctx, team, p.ID)
	require.NoError(t, err)
	assert.False(t, p.IsPaid)
	a, err = f.store.GetMember(ctx, team, a.ID)
	require.NoError(t, err)
	assertDecimal(t, "10", a.Hours())
	assertDecimal(t, "5", a.Balance)
	payouts, err := f.eng.ListPayouts(ctx, team)
	require.NoError(t, err)
	assert.Empty(t, payouts)
}

func TestPreviewPayout_UnknownStepRejected(t *testing.T) {
	f := newFixture(t)
	p := f.closedPeriod(t, "10")
	step := tips.RoundingStep("0.25")

	_, err := f.eng.PreviewPayout(context.Background(), team, engine.PreviewRequest{
		SettleRequest: engine.SettleRequest{PeriodIDs: ids(p)},
		RoundingStep:  &step,
	})

	assert.ErrorIs(t, err, tips.ErrConfiguration)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestMarkPeriodsAsPaid_DistributionExample(t *testing.T) {
	// GIVEN: A 10h with +5 carried, B 30h with -2 carried, 100 in tips,
	// payouts floored to 5
	f := newFixture(t)
	ctx := context.Background()
	f.settings(t, func(s *tips.Settings) { s.RoundingStep = tips.Round500 })
	a := f.addMember(t, "A", "10", "5")
	b := f.addMember(t, "B", "30", "-2")
	p := f.closedPeriod(t, "100")

	// WHEN
	payout, err := f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: ids(p)})
	require.NoError(t, err)

	// THEN: 25/75 shares, 30/70 paid, balances 0/3
	itemA, itemB := itemFor(t, payout, a.ID), itemFor(t, payout, b.ID)
	assertDecimal(t, "25", itemA.Amount)
	assertDecimal(t, "75", itemB.Amount)
	assertDecimal(t, "30", itemA.ActualAmount)
	assertDecimal(t, "70", itemB.ActualAmount)
	assertDecimal(t, "0", itemA.Balance)
	assertDecimal(t, "3", itemB.Balance)
	assertDecimal(t, "5", itemA.PriorBalance)
	assertDecimal(t, "10", itemA.Hours)
	assert.Equal(t, "A", itemA.MemberName)
	assert.Equal(t, tips.Round500, payout.RoundingStep)
	assert.Equal(t, []tips.PeriodID{p.ID}, payout.PeriodIDs)
	assert.Equal(t, monday, payout.Date)

	// Period is paid, balances carried, hours cleared, payout recorded.
	p, err = f.eng.GetPeriod(ctx, team, p.ID)
	require.NoError(t, err)
	assert.Equal(t, tips.StatusPaid, p.Status())

	members, err := f.eng.ListMembers(ctx, team)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assertDecimal(t, "0", members[0].Balance)
	assertDecimal(t, "3", members[1].Balance)
	assert.True(t, members[0].Hours().IsZero())
	assert.True(t, members[1].Hours().IsZero())

	payouts, err := f.eng.ListPayouts(ctx, team)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, payout.ID, payouts[0].ID)
	assert.Equal(t, 1.0, f.counter(t, "tips_payouts_settled_total"))
	assert.Equal(t, 100.0, f.counter(t, "tips_payout_amount_total"))
}

func TestMarkPeriodsAsPaid_ZeroHoursSplitsEvenly(t *testing.T) {
	f := newFixture(t)
	a := f.addMember(t, "A", "", "")
	b := f.addMember(t, "B", "", "")
	p := f.closedPeriod(t, "50")

	payout, err := f.eng.MarkPeriodsAsPaid(context.Background(), team, engine.SettleRequest{PeriodIDs: ids(p)})
	require.NoError(t, err)

	assertDecimal(t, "25", itemFor(t, payout, a.ID).ActualAmount)
	assertDecimal(t, "25", itemFor(t, payout, b.ID).ActualAmount)
}

func TestMarkPeriodsAsPaid_MultiplePeriods(t *testing.T) {
	f := newFixture(t)
	a := f.addMember(t, "A", "1", "")
	p1 := f.closedPeriod(t, "10")
	p2 := f.closedPeriod(t, "2.5")

	payout, err := f.eng.MarkPeriodsAsPaid(context.Background(), team, engine.SettleRequest{PeriodIDs: ids(p1, p2)})
	require.NoError(t, err)

	assertDecimal(t, "12.5", itemFor(t, payout, a.ID).ActualAmount)
	assert.Len(t, payout.PeriodIDs, 2)
}

func TestMarkPeriodsAsPaid_Overrides(t *testing.T) {
	// GIVEN: A is owed 25 but gets 20 in cash
	f := newFixture(t)
	ctx := context.Background()
	a := f.addMember(t, "A", "10", "")
	b := f.addMember(t, "B", "30", "")
	p := f.closedPeriod(t, "100")

	// WHEN
	payout, err := f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{
		PeriodIDs: ids(p),
		Overrides: map[tips.MemberID]decimal.Decimal{a.ID: d("20")},
	})
	require.NoError(t, err)

	// THEN: the shortfall carries, B is paid in full
	assertDecimal(t, "5", itemFor(t, payout, a.ID).Balance)
	assertDecimal(t, "75", itemFor(t, payout, b.ID).ActualAmount)
	assertDecimal(t, "0", itemFor(t, payout, b.ID).Balance)
}

func TestMarkPeriodsAsPaid_InvalidOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addMember(t, "A", "10", "")
	p := f.closedPeriod(t, "100")

	for name, overrides := range map[string]map[tips.MemberID]decimal.Decimal{
		"negative":       {a.ID: d("-1")},
		"unknown member": {"ghost": d("1")},
		"sub-cent":       {a.ID: d("20.005")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: ids(p), Overrides: overrides})
			assert.ErrorIs(t, err, tips.ErrValidation)

			got, err := f.eng.GetPeriod(ctx, team, p.ID)
			require.NoError(t, err)
			assert.False(t, got.IsPaid)
		})
	}
}

func TestMarkPeriodsAsPaid_TwiceIsStateConflict(t *testing.T) {
	// GIVEN: a settled period
	f := newFixture(t)
	ctx := context.Background()
	a := f.addMember(t, "A", "10", "")
	p := f.closedPeriod(t, "100")
	_, err := f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: ids(p)})
	require.NoError(t, err)
	_, err = f.eng.AddHours(ctx, team, "manager", a.ID, engine.HoursInput{Hours: d("4")})
	require.NoError(t, err)
	before, err := f.store.GetMember(ctx, team, a.ID)
	require.NoError(t, err)

	// WHEN: settling it again
	_, err = f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: ids(p)})

	// THEN: conflict and no state change
	var conflict *tips.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, p.ID, conflict.PeriodID)
	assert.Equal(t, tips.StatusPaid, conflict.State)
	assert.False(t, tips.IsRetryable(err))

	after, err := f.store.GetMember(ctx, team, a.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	payouts, err := f.eng.ListPayouts(ctx, team)
	require.NoError(t, err)
	assert.Len(t, payouts, 1)
}

func TestMarkPeriodsAsPaid_ActivePeriodIsStateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMember(t, "A", "10", "")
	tip, err := f.eng.AddTip(ctx, team, "alice", engine.TipInput{Amount: d("10")})
	require.NoError(t, err)

	_, err = f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: []tips.PeriodID{tip.PeriodID}})

	var conflict *tips.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, tips.StatusActive, conflict.State)
}

func TestMarkPeriodsAsPaid_Conservation(t *testing.T) {
	// GIVEN: awkward hours, carried balances of both signs and every step
	steps := []tips.RoundingStep{tips.RoundNone, tips.Round050, tips.Round100, tips.Round200, tips.Round500, tips.Round1000}
	for _, step := range steps {
		t.Run(string(step), func(t *testing.T) {
			f := newFixture(t)
			f.settings(t, func(s *tips.Settings) { s.RoundingStep = step })
			f.addMember(t, "A", "7.25", "3.10")
			f.addMember(t, "B", "13", "-12.40")
			f.addMember(t, "C", "0.5", "")
			f.addMember(t, "D", "", "-1.05")
			p := f.closedPeriod(t, "187.35", "42.10", "0.95")

			// WHEN
			payout, err := f.eng.MarkPeriodsAsPaid(context.Background(), team, engine.SettleRequest{PeriodIDs: ids(p)})
			require.NoError(t, err)

			// THEN: every member's paid plus carried equals what was due, and
			// no default payout exceeds what is due
			assertTeamConserved(t, payout, d("230.40"))
			for _, it := range payout.Items {
				due := it.TotalDue()
				assertDecimal(t, due.Round(2).String(), it.ActualAmount.Add(it.Balance).Round(2), "member %s", it.MemberName)
				assert.False(t, it.ActualAmount.IsNegative())
				if due.IsPositive() {
					assert.True(t, it.ActualAmount.LessThanOrEqual(due))
				}
			}
		})
	}
}

func TestMarkPeriodsAsPaid_ThirdsKeepEveryCent(t *testing.T) {
	// GIVEN: 100 split three ways at a 5.00 step
	f := newFixture(t)
	f.settings(t, func(s *tips.Settings) { s.RoundingStep = tips.Round500 })
	a := f.addMember(t, "A", "1", "")
	b := f.addMember(t, "B", "1", "")
	c := f.addMember(t, "C", "1", "")
	p := f.closedPeriod(t, "100")

	// WHEN
	payout, err := f.eng.MarkPeriodsAsPaid(context.Background(), team, engine.SettleRequest{PeriodIDs: ids(p)})
	require.NoError(t, err)

	// THEN: the odd cent goes to the first member and none is lost
	assertDecimal(t, "33.34", itemFor(t, payout, a.ID).Amount)
	assertDecimal(t, "33.33", itemFor(t, payout, b.ID).Amount)
	assertDecimal(t, "33.33", itemFor(t, payout, c.ID).Amount)
	assertDecimal(t, "90", payout.TotalActual())
	assertDecimal(t, "3.34", itemFor(t, payout, a.ID).Balance)
	assertDecimal(t, "3.33", itemFor(t, payout, c.ID).Balance)
	assertTeamConserved(t, payout, d("100"))
}

// assertTeamConserved checks that the amounts add up to the pooled tips and
// that what was paid plus what carries equals tips plus prior balances.
func assertTeamConserved(t *testing.T, payout tips.PayoutData, pooled decimal.Decimal) {
	t.Helper()
	amounts, prior, paid, carried := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, it := range payout.Items {
		amounts = amounts.Add(it.Amount)
		prior = prior.Add(it.PriorBalance)
		paid = paid.Add(it.ActualAmount)
		carried = carried.Add(it.Balance)
	}
	assertDecimal(t, pooled.String(), amounts, "shares add up to the pool")
	assertDecimal(t, pooled.Add(prior).String(), paid.Add(carried), "paid plus carried")
}

// =============================================================================
// PERSISTENCE FAILURE AND RETRY
// =============================================================================

func TestMarkPeriodsAsPaid_PersistenceFailureKeepsSettlementForRetry(t *testing.T) {
	// GIVEN: a settlement whose commit fails
	f := newFixture(t)
	ctx := context.Background()
	a := f.addMember(t, "A", "10", "")
	f.addMember(t, "B", "30", "")
	p := f.closedPeriod(t, "100")
	f.store.FailNextTx(errors.New("connection reset"), 1)

	// WHEN
	_, err := f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: ids(p)})

	// THEN: retryable persistence error, nothing written, settlement pending
	var perr *tips.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.True(t, tips.IsRetryable(err))
	assert.Equal(t, 1.0, f.counter(t, "tips_settlement_failures_total"))

	got, err := f.eng.GetPeriod(ctx, team, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	pending, ok := f.eng.PendingSettlement(team)
	require.True(t, ok)

	// Hours logged while the settlement waits are not part of it.
	late, err := f.eng.AddHours(ctx, team, "manager", a.ID, engine.HoursInput{Hours: d("2")})
	require.NoError(t, err)

	// WHEN: retrying
	payout, err := f.eng.RetryPendingSettlement(ctx, team)
	require.NoError(t, err)

	// THEN: the very same payout was committed
	assert.Equal(t, pending.ID, payout.ID)
	assert.Equal(t, pending.Items, payout.Items)
	assertDecimal(t, "25", itemFor(t, payout, a.ID).ActualAmount)

	got, err = f.eng.GetPeriod(ctx, team, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPaid)
	a, err = f.store.GetMember(ctx, team, a.ID)
	require.NoError(t, err)
	require.Len(t, a.Registrations, 1)
	assert.Equal(t, late.ID, a.Registrations[0].ID)

	_, ok = f.eng.PendingSettlement(team)
	assert.False(t, ok)
	_, err = f.eng.RetryPendingSettlement(ctx, team)
	assert.ErrorIs(t, err, tips.ErrNoPendingSettlement)
}

func TestRetryPendingSettlement_BalanceMovedSinceIsConflict(t *testing.T) {
	// GIVEN: two closed periods of 13 shared evenly at a 5.00 step
	f := newFixture(t)
	ctx := context.Background()
	f.settings(t, func(s *tips.Settings) { s.RoundingStep = tips.Round500 })
	x := f.addMember(t, "X", "", "")
	f.addMember(t, "Y", "", "")
	first := f.closedPeriod(t, "13")
	second := f.closedPeriod(t, "13")

	// AND: settling the first fails, settling the second succeeds
	f.store.FailNextTx(errors.New("connection reset"), 1)
	_, err := f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: ids(first)})
	require.True(t, tips.IsRetryable(err))
	_, err = f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: ids(second)})
	require.NoError(t, err)
	x, err = f.store.GetMember(ctx, team, x.ID)
	require.NoError(t, err)
	assertDecimal(t, "1.5", x.Balance)

	// WHEN: retrying the stale settlement
	_, err = f.eng.RetryPendingSettlement(ctx, team)

	// THEN: conflict, nothing overwritten, the stale settlement is dropped
	var conflict *tips.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.False(t, tips.IsRetryable(err))
	_, ok := f.eng.PendingSettlement(team)
	assert.False(t, ok)

	got, err := f.eng.GetPeriod(ctx, team, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	x, err = f.store.GetMember(ctx, team, x.ID)
	require.NoError(t, err)
	assertDecimal(t, "1.5", x.Balance)

	// WHEN: the first period is settled afresh
	payout, err := f.eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: ids(first)})
	require.NoError(t, err)

	// THEN: both carries add up
	assertDecimal(t, "1.5", itemFor(t, payout, x.ID).PriorBalance)
	assertDecimal(t, "3", itemFor(t, payout, x.ID).Balance)
	x, err = f.store.GetMember(ctx, team, x.ID)
	require.NoError(t, err)
	assertDecimal(t, "3", x.Balance)
}

func TestRetryPendingSettlement_NothingPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.RetryPendingSettlement(context.Background(), team)
	assert.ErrorIs(t, err, tips.ErrNoPendingSettlement)
}
