/*
reconcile.go - Carried balance reconciliation

PURPOSE:
  Computes each member's balance after a payout:

    totalDue   = amount + priorBalance
    newBalance = totalDue - actualAmount      (rounded to cents)

  A member without an actual amount is paid exactly what is due, leaving a
  zero balance. Positive balances are still owed to the member; negative
  balances are an overpayment that reduces a future payout.

  Reconcile is pure. It runs once for previews and once more at settlement,
  and neither call changes any state.
*/
package tips

import "github.com/shopspring/decimal"

// Allocation is a share to reconcile.
type Allocation struct {
	MemberID MemberID
	Amount   decimal.Decimal
}

// MemberBalance is the reconciled carry-forward for one member.
type MemberBalance struct {
	MemberID MemberID
	Balance  decimal.Decimal
}

// Reconcile computes new carried balances in the order of distribution.
func Reconcile(distribution []Allocation, priorBalances, actualAmounts map[MemberID]decimal.Decimal) []MemberBalance {
	out := make([]MemberBalance, len(distribution))
	for i, a := range distribution {
		totalDue := a.Amount.Add(priorBalances[a.MemberID])
		actual, ok := actualAmounts[a.MemberID]
		if !ok {
			actual = totalDue
		}
		out[i] = MemberBalance{
			MemberID: a.MemberID,
			Balance:  totalDue.Sub(actual).Round(2),
		}
	}
	return out
}

// Allocations converts calculator shares into reconciler input.
func Allocations(shares []Share) []Allocation {
	out := make([]Allocation, len(shares))
	for i, s := range shares {
		out[i] = Allocation{MemberID: s.MemberID, Amount: s.TipAmount}
	}
	return out
}
