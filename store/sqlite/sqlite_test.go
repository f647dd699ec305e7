package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiptop/tip-engine/engine"
	"github.com/tiptop/tip-engine/tips"
	"github.com/tiptop/tip-engine/store/sqlite"
)

const team tips.TeamID = "team-1"

var monday = time.Date(2024, time.April, 8, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSQLite_Settings(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.GetSettings(ctx, team)
	assert.ErrorIs(t, err, tips.ErrNotFound)

	s := tips.DefaultSettings()
	s.RoundingStep = tips.Round500
	s.PeriodDuration = tips.DurationMonth
	require.NoError(t, st.SaveSettings(ctx, team, s))

	got, err := st.GetSettings(ctx, team)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	// Saving again replaces the row.
	s.AutoClosePeriods = false
	require.NoError(t, st.SaveSettings(ctx, team, s))
	got, err = st.GetSettings(ctx, team)
	require.NoError(t, err)
	assert.False(t, got.AutoClosePeriods)
}

func TestSQLite_MalformedSettingsFallBackToDefaults(t *testing.T) {
	// GIVEN: a settings row written by something else
	path := filepath.Join(t.TempDir(), "tips.db")
	st, err := sqlite.New(path)
	require.NoError(t, err)
	defer st.Close()

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO team_settings (team_id, settings_json, updated_at)
		VALUES ('team-1', '{"period_duration":"fortnight"}', '2024-04-08T10:00:00Z')`)
	require.NoError(t, err)
	raw.Close()

	// WHEN: it is loaded
	got, err := st.GetSettings(context.Background(), team)

	// THEN: defaults come back with a configuration error
	assert.ErrorIs(t, err, tips.ErrConfiguration)
	assert.Equal(t, tips.DefaultSettings(), got)
}

// =============================================================================
// PERIODS AND TIPS
// =============================================================================

func TestSQLite_PeriodRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	closeAt := monday.Add(48 * time.Hour)
	p := tips.Period{
		ID: "p1", TeamID: team, Name: "Week 15 2024",
		StartDate: monday, AutoCloseDate: &closeAt, IsActive: true,
	}
	require.NoError(t, st.CreatePeriod(ctx, p))
	require.NoError(t, st.AddTip(ctx, team, tips.TipEntry{
		ID: "t1", PeriodID: "p1", Amount: decimal.RequireFromString("12.34"),
		Date: monday, Note: "table 4", CreatedBy: "u1", CreatedAt: monday,
	}))
	require.NoError(t, st.AddTip(ctx, team, tips.TipEntry{
		ID: "t2", PeriodID: "p1", Amount: decimal.NewFromInt(5), Date: monday, CreatedAt: monday,
	}))

	got, err := st.GetPeriod(ctx, team, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Week 15 2024", got.Name)
	assert.True(t, got.StartDate.Equal(monday))
	require.NotNil(t, got.AutoCloseDate)
	assert.True(t, got.AutoCloseDate.Equal(closeAt))
	assert.Nil(t, got.EndDate)
	assert.Equal(t, tips.StatusActive, got.Status())
	require.Len(t, got.Tips, 2)
	assert.Equal(t, tips.TipID("t1"), got.Tips[0].ID)
	assert.Equal(t, "table 4", got.Tips[0].Note)
	assert.True(t, got.TotalTips().Equal(decimal.RequireFromString("17.34")))
}

func TestSQLite_OneActivePeriodPerTeam(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreatePeriod(ctx, tips.Period{ID: "p1", TeamID: team, StartDate: monday, IsActive: true}))

	err := st.CreatePeriod(ctx, tips.Period{ID: "p2", TeamID: team, StartDate: monday, IsActive: true})
	assert.ErrorIs(t, err, tips.ErrStateConflict)

	// Another team is unaffected.
	assert.NoError(t, st.CreatePeriod(ctx, tips.Period{ID: "p3", TeamID: "team-2", StartDate: monday, IsActive: true}))
}

func TestSQLite_UpdatePeriodKeepsTips(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreatePeriod(ctx, tips.Period{ID: "p1", TeamID: team, StartDate: monday, IsActive: true}))
	require.NoError(t, st.AddTip(ctx, team, tips.TipEntry{ID: "t1", PeriodID: "p1", Amount: decimal.NewFromInt(3), Date: monday, CreatedAt: monday}))

	end := monday.Add(time.Hour)
	require.NoError(t, st.UpdatePeriod(ctx, tips.Period{ID: "p1", TeamID: team, StartDate: monday, EndDate: &end}))

	p, err := st.GetPeriod(ctx, team, "p1")
	require.NoError(t, err)
	assert.Equal(t, tips.StatusClosed, p.Status())
	assert.Len(t, p.Tips, 1)

	_, err = st.ActivePeriod(ctx, team)
	assert.ErrorIs(t, err, tips.ErrNotFound)

	err = st.UpdatePeriod(ctx, tips.Period{ID: "missing", TeamID: team, StartDate: monday})
	assert.ErrorIs(t, err, tips.ErrNotFound)
}

func TestSQLite_DeletePeriodRemovesTips(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreatePeriod(ctx, tips.Period{ID: "p1", TeamID: team, StartDate: monday}))
	require.NoError(t, st.AddTip(ctx, team, tips.TipEntry{ID: "t1", PeriodID: "p1", Amount: decimal.NewFromInt(3), Date: monday, CreatedAt: monday}))

	// Another team cannot delete it.
	assert.ErrorIs(t, st.DeletePeriod(ctx, "team-2", "p1"), tips.ErrNotFound)

	require.NoError(t, st.DeletePeriod(ctx, team, "p1"))
	_, err := st.GetPeriod(ctx, team, "p1")
	assert.ErrorIs(t, err, tips.ErrNotFound)

	// The tip ID is free again.
	require.NoError(t, st.CreatePeriod(ctx, tips.Period{ID: "p2", TeamID: team, StartDate: monday}))
	assert.NoError(t, st.AddTip(ctx, team, tips.TipEntry{ID: "t1", PeriodID: "p2", Amount: decimal.NewFromInt(1), Date: monday, CreatedAt: monday}))
}

func TestSQLite_AddTipToUnknownPeriod(t *testing.T) {
	st := newStore(t)
	err := st.AddTip(context.Background(), team, tips.TipEntry{ID: "t1", PeriodID: "nope", Date: monday, CreatedAt: monday})
	assert.ErrorIs(t, err, tips.ErrNotFound)
}

// =============================================================================
// MEMBERS AND HOURS
// =============================================================================

func TestSQLite_Members(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveMember(ctx, tips.TeamMember{ID: "m1", TeamID: team, Name: "Ann", Balance: decimal.Zero}))

	err := st.SaveMember(ctx, tips.TeamMember{ID: "m2", TeamID: team, Name: "ann", Balance: decimal.Zero})
	assert.ErrorIs(t, err, tips.ErrDuplicateName)

	require.NoError(t, st.AddHourRegistration(ctx, team, tips.HourRegistration{ID: "r1", MemberID: "m1", Hours: decimal.RequireFromString("4.5"), Date: monday}))
	require.NoError(t, st.AddHourRegistration(ctx, team, tips.HourRegistration{ID: "r2", MemberID: "m1", Hours: decimal.NewFromInt(-1), Date: monday}))

	// Balance update keeps registrations.
	require.NoError(t, st.SaveMember(ctx, tips.TeamMember{ID: "m1", TeamID: team, Name: "Ann", Balance: decimal.RequireFromString("-2.5")}))
	m, err := st.GetMember(ctx, team, "m1")
	require.NoError(t, err)
	assert.True(t, m.Hours().Equal(decimal.RequireFromString("3.5")))
	assert.True(t, m.Balance.Equal(decimal.RequireFromString("-2.5")))

	err = st.AddHourRegistration(ctx, team, tips.HourRegistration{ID: "r3", MemberID: "ghost", Hours: decimal.NewFromInt(1), Date: monday})
	assert.ErrorIs(t, err, tips.ErrNotFound)
}

func TestSQLite_DeleteHourRegistrationsIsAllOrNothing(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveMember(ctx, tips.TeamMember{ID: "m1", TeamID: team, Name: "Ann", Balance: decimal.Zero}))
	require.NoError(t, st.AddHourRegistration(ctx, team, tips.HourRegistration{ID: "r1", MemberID: "m1", Hours: decimal.NewFromInt(4), Date: monday}))
	require.NoError(t, st.AddHourRegistration(ctx, team, tips.HourRegistration{ID: "r2", MemberID: "m1", Hours: decimal.NewFromInt(2), Date: monday}))

	err := st.DeleteHourRegistrations(ctx, team, "m1", []tips.RegistrationID{"r1", "missing"})
	assert.ErrorIs(t, err, tips.ErrNotFound)
	m, _ := st.GetMember(ctx, team, "m1")
	assert.Len(t, m.Registrations, 2)

	require.NoError(t, st.DeleteHourRegistrations(ctx, team, "m1", []tips.RegistrationID{"r1", "r1"}))
	m, _ = st.GetMember(ctx, team, "m1")
	require.Len(t, m.Registrations, 1)
	assert.Equal(t, tips.RegistrationID("r2"), m.Registrations[0].ID)
}

// =============================================================================
// PAYOUTS AND TRANSACTIONS
// =============================================================================

func TestSQLite_PayoutRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := tips.PayoutData{
		ID: "po1", TeamID: team, PeriodIDs: []tips.PeriodID{"p1", "p2"},
		Date: monday, RoundingStep: tips.Round1000,
		Items: []tips.PayoutDistributionItem{
			{
				MemberID: "m1", MemberName: "Ann", Hours: decimal.NewFromInt(10),
				Amount: decimal.NewFromInt(25), PriorBalance: decimal.Zero,
				ActualAmount: decimal.NewFromInt(20), Balance: decimal.NewFromInt(5),
			},
		},
	}
	require.NoError(t, st.SavePayout(ctx, p))
	assert.Error(t, st.SavePayout(ctx, p))

	payouts, err := st.ListPayouts(ctx, team)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	got := payouts[0]
	assert.Equal(t, p.PeriodIDs, got.PeriodIDs)
	assert.Equal(t, tips.Round1000, got.RoundingStep)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Ann", got.Items[0].MemberName)
	assert.True(t, got.Items[0].Balance.Equal(decimal.NewFromInt(5)))
	assert.True(t, got.TotalActual().Equal(decimal.NewFromInt(20)))
}

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: a store with an active period
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreatePeriod(ctx, tips.Period{ID: "p1", TeamID: team, StartDate: monday, IsActive: true}))

	// WHEN: a transaction writes, reads its own write, then fails
	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx tips.Store) error {
		require.NoError(t, tx.AddTip(ctx, team, tips.TipEntry{ID: "t1", PeriodID: "p1", Amount: decimal.NewFromInt(5), Date: monday, CreatedAt: monday}))
		p, err := tx.GetPeriod(ctx, team, "p1")
		require.NoError(t, err)
		assert.Len(t, p.Tips, 1)
		return boom
	})

	// THEN: nothing is kept
	assert.ErrorIs(t, err, boom)
	p, err := st.GetPeriod(ctx, team, "p1")
	require.NoError(t, err)
	assert.Empty(t, p.Tips)
}

func TestSQLite_ListTeams(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSettings(ctx, "b", tips.DefaultSettings()))
	require.NoError(t, st.CreatePeriod(ctx, tips.Period{ID: "p1", TeamID: "a", StartDate: monday}))
	require.NoError(t, st.CreatePeriod(ctx, tips.Period{ID: "p2", TeamID: "b", StartDate: monday}))

	teams, err := st.ListTeams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []tips.TeamID{"a", "b"}, teams)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestSQLite_EngineSettlement(t *testing.T) {
	// GIVEN: the engine backed by SQLite with two members and a closed period
	st := newStore(t)
	ctx := context.Background()
	eng := engine.New(st, engine.Options{})

	s := tips.DefaultSettings()
	s.AutoClosePeriods = false
	s.RoundingStep = tips.Round1000
	_, err := eng.UpdateSettings(ctx, team, s)
	require.NoError(t, err)

	a, err := eng.AddMember(ctx, team, "A")
	require.NoError(t, err)
	b, err := eng.AddMember(ctx, team, "B")
	require.NoError(t, err)
	_, err = eng.AddHours(ctx, team, "u1", a.ID, engine.HoursInput{Hours: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = eng.AddHours(ctx, team, "u1", b.ID, engine.HoursInput{Hours: decimal.NewFromInt(30)})
	require.NoError(t, err)

	_, err = eng.AddTip(ctx, team, "u1", engine.TipInput{Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	closed, err := eng.EndCurrentPeriod(ctx, team)
	require.NoError(t, err)
	require.NotNil(t, closed)

	// WHEN: the period is settled
	payout, err := eng.MarkPeriodsAsPaid(ctx, team, engine.SettleRequest{PeriodIDs: []tips.PeriodID{closed.ID}})
	require.NoError(t, err)

	// THEN: the period is paid, hours are cleared and balances persisted
	p, err := st.GetPeriod(ctx, team, closed.ID)
	require.NoError(t, err)
	assert.Equal(t, tips.StatusPaid, p.Status())

	mb, err := st.GetMember(ctx, team, b.ID)
	require.NoError(t, err)
	assert.True(t, mb.Hours().IsZero())
	assert.True(t, mb.Balance.Equal(decimal.NewFromInt(5)), "75 rounds down to 70")

	payouts, err := st.ListPayouts(ctx, team)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, payout.ID, payouts[0].ID)
	assert.True(t, payouts[0].TotalActual().Equal(decimal.NewFromInt(90)))
}
