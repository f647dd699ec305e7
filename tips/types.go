/*
Package tips provides the core tip pooling engine.

PURPOSE:
  This package contains the domain types and the pure calculators behind a
  pooled-gratuity system: tips are logged against time-bounded periods,
  team members log hours, and closed periods are distributed proportionally
  to hours worked and settled as a payout.

KEY CONCEPTS IN THIS FILE (types.go):
  - Period: a window during which tips accumulate (active, closed, paid)
  - TipEntry: a single logged tip, owned by exactly one period
  - TeamMember: a worker with hour registrations and a carried balance
  - PayoutData: an immutable snapshot of one settlement

DESIGN PRINCIPLES:
  1. Precision: all money and hours use decimal.Decimal
  2. Snapshots: PayoutData copies distribution items, it never points at members
  3. Derived state: Period status and member hours are computed, never stored
  4. Purity: calculators in this package never touch storage or the clock

SEE ALSO:
  - rounding.go: denomination rounding
  - schedule.go: auto-close deadline computation
  - distribution.go: proportional share calculation
  - reconcile.go: carried balance reconciliation
  - store.go: persistence interfaces
*/
package tips

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TeamID string
type PeriodID string
type TipID string
type MemberID string
type RegistrationID string
type PayoutID string

// =============================================================================
// PERIOD - A window during which tips accumulate
// =============================================================================

// PeriodStatus is derived from the IsActive/IsPaid flags.
type PeriodStatus string

const (
	StatusActive PeriodStatus = "active"
	StatusClosed PeriodStatus = "closed"
	StatusPaid   PeriodStatus = "paid"
)

// Period owns its tip entries exclusively. At most one period per team is
// active at any time; that invariant is enforced by the lifecycle controller.
type Period struct {
	ID            PeriodID
	TeamID        TeamID
	Name          string
	StartDate     time.Time
	EndDate       *time.Time
	AutoCloseDate *time.Time
	IsActive      bool
	IsPaid        bool

	// Tips in insertion order. Order matters for display only.
	Tips []TipEntry
}

// Status returns the lifecycle state of the period.
func (p Period) Status() PeriodStatus {
	switch {
	case p.IsPaid:
		return StatusPaid
	case p.IsActive:
		return StatusActive
	default:
		return StatusClosed
	}
}

// TotalTips sums every tip entry in the period.
func (p Period) TotalTips() decimal.Decimal {
	total := decimal.Zero
	for _, t := range p.Tips {
		total = total.Add(t.Amount)
	}
	return total
}

// TipEntry is a single tip logged against a period. PeriodID never changes
// after creation.
type TipEntry struct {
	ID        TipID
	PeriodID  PeriodID
	Amount    decimal.Decimal
	Date      time.Time // when the tip occurred, may differ from CreatedAt
	Note      string
	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// TEAM MEMBER - Hours and carried balance
// =============================================================================

// TeamMember is a worker in the pool. Balance is signed: positive means the
// team still owes the member, negative means the member was overpaid.
type TeamMember struct {
	ID      MemberID
	TeamID  TeamID
	Name    string
	Balance decimal.Decimal

	// Registrations in insertion order.
	Registrations []HourRegistration
}

// Hours is the sum of the member's hour registrations.
func (m TeamMember) Hours() decimal.Decimal {
	total := decimal.Zero
	for _, r := range m.Registrations {
		total = total.Add(r.Hours)
	}
	return total
}

// HourRegistration is one hours entry. Negative values are corrections.
type HourRegistration struct {
	ID        RegistrationID
	MemberID  MemberID
	Hours     decimal.Decimal
	Date      time.Time
	CreatedBy string
}

// =============================================================================
// PAYOUT - Immutable settlement snapshot
// =============================================================================

// PayoutDistributionItem is one member's line in a settlement.
//
//	Balance = (Amount + PriorBalance) - ActualAmount
type PayoutDistributionItem struct {
	MemberID     MemberID
	MemberName   string
	Hours        decimal.Decimal
	Amount       decimal.Decimal // calculated share, full precision
	PriorBalance decimal.Decimal
	ActualAmount decimal.Decimal // what is disbursed
	Balance      decimal.Decimal // carried into the next cycle
}

// TotalDue is the share plus whatever was carried from earlier payouts.
func (i PayoutDistributionItem) TotalDue() decimal.Decimal {
	return i.Amount.Add(i.PriorBalance)
}

// PayoutData is created exactly once per settlement and never modified.
type PayoutData struct {
	ID           PayoutID
	TeamID       TeamID
	PeriodIDs    []PeriodID
	Date         time.Time
	RoundingStep RoundingStep
	Items        []PayoutDistributionItem
}

// TotalActual sums what was disbursed across all members.
func (p PayoutData) TotalActual() decimal.Decimal {
	total := decimal.Zero
	for _, it := range p.Items {
		total = total.Add(it.ActualAmount)
	}
	return total
}

// Clone returns a deep copy so callers can't mutate a stored snapshot.
func (p PayoutData) Clone() PayoutData {
	out := p
	out.PeriodIDs = append([]PeriodID(nil), p.PeriodIDs...)
	out.Items = append([]PayoutDistributionItem(nil), p.Items...)
	return out
}
