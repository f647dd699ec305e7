/*
store.go - Persistence interface for periods, members and payouts

PURPOSE:
  Defines the boundary between the engine and its persistence collaborator.
  The engine never performs I/O itself; every read and write goes through
  Store, and multi-record writes go through TxStore.WithTx.

KEY INTERFACES:
  Store:   CRUD for settings, periods, tips, members, hours and payouts
  TxStore: Store plus atomic multi-write transactions

ATOMIC SETTLEMENT:
  Settling a payout writes periods (paid), member balances, deleted hour
  registrations and the payout snapshot. WithTx makes that all-or-nothing,
  so a failed commit leaves no partial payout behind.

PAYOUTS ARE APPEND-ONLY:
  There is no Update or Delete for PayoutData.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - tips/store/memory.go: In-memory for testing

SEE ALSO:
  - engine/lifecycle.go, engine/settlement.go: the callers
*/
package tips

import "context"

// =============================================================================
// STORE - Interface for engine persistence
// =============================================================================

// Store persists the engine's records. Lookups of missing records return an
// error wrapping ErrNotFound.
type Store interface {
	// Settings. GetSettings returns ErrNotFound for a team that never saved
	// any. A malformed stored record yields DefaultSettings together with an
	// error wrapping ErrConfiguration.
	GetSettings(ctx context.Context, teamID TeamID) (Settings, error)
	SaveSettings(ctx context.Context, teamID TeamID, s Settings) error

	// ListTeams returns every team that has settings or periods.
	ListTeams(ctx context.Context) ([]TeamID, error)

	// Periods. Returned periods include their tips in insertion order.
	CreatePeriod(ctx context.Context, p Period) error
	UpdatePeriod(ctx context.Context, p Period) error
	GetPeriod(ctx context.Context, teamID TeamID, id PeriodID) (Period, error)
	ListPeriods(ctx context.Context, teamID TeamID) ([]Period, error)
	// ActivePeriod returns ErrNotFound when no period is active.
	ActivePeriod(ctx context.Context, teamID TeamID) (Period, error)
	// DeletePeriod removes the period and its tips.
	DeletePeriod(ctx context.Context, teamID TeamID, id PeriodID) error

	AddTip(ctx context.Context, teamID TeamID, tip TipEntry) error

	// Members. Returned members include their registrations.
	SaveMember(ctx context.Context, m TeamMember) error
	GetMember(ctx context.Context, teamID TeamID, id MemberID) (TeamMember, error)
	ListMembers(ctx context.Context, teamID TeamID) ([]TeamMember, error)
	AddHourRegistration(ctx context.Context, teamID TeamID, r HourRegistration) error
	// DeleteHourRegistrations removes the given registrations. Missing ids
	// are an ErrNotFound error and nothing is removed.
	DeleteHourRegistrations(ctx context.Context, teamID TeamID, memberID MemberID, ids []RegistrationID) error

	// Payouts (append-only).
	SavePayout(ctx context.Context, p PayoutData) error
	ListPayouts(ctx context.Context, teamID TeamID) ([]PayoutData, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
