/*
distribution.go - Proportional tip shares

PURPOSE:
  Splits the pooled tips of one or more periods across team members in
  proportion to the hours each member logged.

ALGORITHM:
  totalTips  = sum of every tip in every period
  totalHours = sum of member hours
  totalHours > 0:  share = member.Hours * totalTips / totalHours
  totalHours == 0: share = totalTips / len(members) for every member

  No rounding happens here. Shares keep full precision for previews;
  settlement turns them into cents with AllocateCents.

CENT ALLOCATION (largest remainder):
  1. Floor every share to the cent.
  2. The cents still missing from totalTips (rounded to cents) go one each
     to the shares with the largest dropped remainder, earlier members first
     on ties.
  The allocated amounts sum to totalTips exactly, so nothing leaks from the
  pool when balances are rounded to cents.

DETERMINISM:
  The result depends only on the snapshot passed in. Output order follows
  the member slice order.
*/
package tips

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Share is one member's calculated portion of the pool.
type Share struct {
	MemberID  MemberID
	TipAmount decimal.Decimal
}

// Distribute computes each member's proportional share of the tips in
// periods. With no members the result is empty.
func Distribute(periods []Period, members []TeamMember) []Share {
	if len(members) == 0 {
		return []Share{}
	}

	totalTips := TotalTips(periods)
	totalHours := TotalHours(members)

	shares := make([]Share, len(members))
	if totalHours.IsZero() {
		// Nobody logged hours: split evenly across every member.
		even := totalTips.Div(decimal.NewFromInt(int64(len(members))))
		for i, m := range members {
			shares[i] = Share{MemberID: m.ID, TipAmount: even}
		}
		return shares
	}

	for i, m := range members {
		// Multiply before dividing so exact ratios stay exact.
		shares[i] = Share{
			MemberID:  m.ID,
			TipAmount: m.Hours().Mul(totalTips).Div(totalHours),
		}
	}
	return shares
}

// AllocateCents rounds shares to whole cents that add up to total rounded to
// cents. Output order follows shares.
func AllocateCents(shares []Share, total decimal.Decimal) []Share {
	out := make([]Share, len(shares))
	if len(shares) == 0 {
		return out
	}

	type remainder struct {
		idx  int
		frac decimal.Decimal
	}
	rems := make([]remainder, len(shares))
	allocated := decimal.Zero
	for i, s := range shares {
		floor := s.TipAmount.RoundFloor(2)
		out[i] = Share{MemberID: s.MemberID, TipAmount: floor}
		rems[i] = remainder{idx: i, frac: s.TipAmount.Sub(floor)}
		allocated = allocated.Add(floor)
	}

	left := total.Round(2).Sub(allocated).Shift(2).IntPart()
	if left <= 0 {
		return out
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac.GreaterThan(rems[b].frac) })
	for k := int64(0); k < left; k++ {
		i := rems[k%int64(len(rems))].idx
		out[i].TipAmount = out[i].TipAmount.Add(cent)
	}
	return out
}

var cent = decimal.New(1, -2)

// AverageTipPerHour is totalTips/totalHours across the given periods, or zero
// when no hours were logged.
func AverageTipPerHour(periods []Period, members []TeamMember) decimal.Decimal {
	totalHours := TotalHours(members)
	if totalHours.IsZero() {
		return decimal.Zero
	}
	return TotalTips(periods).Div(totalHours)
}

// TotalTips sums the tips of every period.
func TotalTips(periods []Period) decimal.Decimal {
	total := decimal.Zero
	for _, p := range periods {
		total = total.Add(p.TotalTips())
	}
	return total
}

// TotalHours sums the hours of every member.
func TotalHours(members []TeamMember) decimal.Decimal {
	total := decimal.Zero
	for _, m := range members {
		total = total.Add(m.Hours())
	}
	return total
}
