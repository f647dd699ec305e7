/*
Package sqlite provides a SQLite-backed implementation of tips.TxStore.

PURPOSE:
  Persists settings, periods, tips, members, hour registrations and payouts.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  tips.Store:   CRUD for every engine record
  tips.TxStore: atomic multi-write transactions (settlement)

KEY TABLES:
  team_settings:      one JSON blob per team (see factory/settings.go)
  periods:            tip windows, at most one active per team
  tips:               tip entries, owned by a period
  members:            team members and their carried balance
  hour_registrations: hours per member, deleted when settled
  payouts:            append-only settlement headers
  payout_items:       one row per member per payout

MONEY:
  Amounts and hours are stored as TEXT decimal strings and read back with
  shopspring/decimal, so nothing passes through float64.

INVARIANTS IN THE SCHEMA:
  - idx_one_active_period: a partial unique index allowing one active
    period per team
  - members(team_id, name) is unique with NOCASE collation

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so that
  ":memory:" databases are shared by every call. In production with
  PostgreSQL, database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/tips.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.New(store, engine.Options{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - tips/store.go: Interface definitions
  - tips/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/tiptop/tip-engine/factory"
	"github.com/tiptop/tip-engine/tips"
)

// Store implements tips.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  *queries
}

var _ tips.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: &queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS team_settings (
		team_id TEXT PRIMARY KEY,
		settings_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		auto_close_date TEXT,
		is_active INTEGER NOT NULL DEFAULT 0,
		is_paid INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_periods_team
		ON periods(team_id);

	-- CRITICAL: at most one active period per team
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_period
		ON periods(team_id) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS tips (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		note TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tips_period
		ON tips(period_id);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		name TEXT NOT NULL COLLATE NOCASE,
		balance TEXT NOT NULL DEFAULT '0',
		UNIQUE(team_id, name)
	);

	CREATE TABLE IF NOT EXISTS hour_registrations (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
		hours TEXT NOT NULL,
		date TEXT NOT NULL,
		created_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_hour_registrations_member
		ON hour_registrations(member_id);

	-- Payouts are append-only
	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		date TEXT NOT NULL,
		rounding_step TEXT NOT NULL,
		period_ids_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_team
		ON payouts(team_id, date);

	CREATE TABLE IF NOT EXISTS payout_items (
		payout_id TEXT NOT NULL REFERENCES payouts(id),
		position INTEGER NOT NULL,
		member_id TEXT NOT NULL,
		member_name TEXT NOT NULL,
		hours TEXT NOT NULL,
		amount TEXT NOT NULL,
		prior_balance TEXT NOT NULL,
		actual_amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		PRIMARY KEY (payout_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ENTRY POINTS (tips.Store interface)
// =============================================================================

func (s *Store) GetSettings(ctx context.Context, teamID tips.TeamID) (tips.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetSettings(ctx, teamID)
}

func (s *Store) SaveSettings(ctx context.Context, teamID tips.TeamID, settings tips.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveSettings(ctx, teamID, settings)
}

func (s *Store) ListTeams(ctx context.Context) ([]tips.TeamID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListTeams(ctx)
}

func (s *Store) CreatePeriod(ctx context.Context, p tips.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreatePeriod(ctx, p)
}

func (s *Store) UpdatePeriod(ctx context.Context, p tips.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdatePeriod(ctx, p)
}

func (s *Store) GetPeriod(ctx context.Context, teamID tips.TeamID, id tips.PeriodID) (tips.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetPeriod(ctx, teamID, id)
}

func (s *Store) ListPeriods(ctx context.Context, teamID tips.TeamID) ([]tips.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListPeriods(ctx, teamID)
}

func (s *Store) ActivePeriod(ctx context.Context, teamID tips.TeamID) (tips.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ActivePeriod(ctx, teamID)
}

func (s *Store) DeletePeriod(ctx context.Context, teamID tips.TeamID, id tips.PeriodID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeletePeriod(ctx, teamID, id)
}

func (s *Store) AddTip(ctx context.Context, teamID tips.TeamID, tip tips.TipEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AddTip(ctx, teamID, tip)
}

func (s *Store) SaveMember(ctx context.Context, m tips.TeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveMember(ctx, m)
}

func (s *Store) GetMember(ctx context.Context, teamID tips.TeamID, id tips.MemberID) (tips.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetMember(ctx, teamID, id)
}

func (s *Store) ListMembers(ctx context.Context, teamID tips.TeamID) ([]tips.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListMembers(ctx, teamID)
}

func (s *Store) AddHourRegistration(ctx context.Context, teamID tips.TeamID, r tips.HourRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AddHourRegistration(ctx, teamID, r)
}

func (s *Store) DeleteHourRegistrations(ctx context.Context, teamID tips.TeamID, memberID tips.MemberID, ids []tips.RegistrationID) error {
	return s.WithTx(ctx, func(tx tips.Store) error {
		return tx.DeleteHourRegistrations(ctx, teamID, memberID, ids)
	})
}

// SavePayout writes the header and its items in one transaction.
func (s *Store) SavePayout(ctx context.Context, p tips.PayoutData) error {
	return s.WithTx(ctx, func(tx tips.Store) error {
		return tx.SavePayout(ctx, p)
	})
}

func (s *Store) ListPayouts(ctx context.Context, teamID tips.TeamID) ([]tips.PayoutData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListPayouts(ctx, teamID)
}

// =============================================================================
// TRANSACTIONAL STORE (tips.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Reads inside fn
// see the transaction's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(store tips.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - Unlocked, run against *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db querier
}

// Settings

func (q *queries) GetSettings(ctx context.Context, teamID tips.TeamID) (tips.Settings, error) {
	var raw string
	err := q.db.QueryRowContext(ctx,
		"SELECT settings_json FROM team_settings WHERE team_id = ?", teamID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return tips.Settings{}, fmt.Errorf("settings for team %s: %w", teamID, tips.ErrNotFound)
	}
	if err != nil {
		return tips.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}

	settings, err := factory.Recover([]byte(raw))
	if err != nil {
		return settings, fmt.Errorf("settings for team %s: %w", teamID, err)
	}
	return settings, nil
}

func (q *queries) SaveSettings(ctx context.Context, teamID tips.TeamID, settings tips.Settings) error {
	raw, err := factory.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO team_settings (team_id, settings_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(team_id) DO UPDATE SET
			settings_json = excluded.settings_json,
			updated_at = excluded.updated_at
	`, teamID, string(raw), formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (q *queries) ListTeams(ctx context.Context) ([]tips.TeamID, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT team_id FROM team_settings
		UNION
		SELECT team_id FROM periods
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := []tips.TeamID{}
	for rows.Next() {
		var id tips.TeamID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		teams = append(teams, id)
	}
	return teams, rows.Err()
}

// Periods

const periodColumns = `id, team_id, name, start_date, end_date, auto_close_date, is_active, is_paid`

func (q *queries) CreatePeriod(ctx context.Context, p tips.Period) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO periods (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.TeamID, p.Name, formatTime(p.StartDate), nullTime(p.EndDate), nullTime(p.AutoCloseDate),
		p.IsActive, p.IsPaid)
	if err != nil {
		if isUniqueConstraintError(err) && p.IsActive {
			return fmt.Errorf("team %s already has an active period: %w", p.TeamID, tips.ErrStateConflict)
		}
		return fmt.Errorf("failed to create period: %w", err)
	}
	return nil
}

// UpdatePeriod writes everything but the tips, which are only added through
// AddTip.
func (q *queries) UpdatePeriod(ctx context.Context, p tips.Period) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE periods
		SET name = ?, start_date = ?, end_date = ?, auto_close_date = ?, is_active = ?, is_paid = ?
		WHERE id = ? AND team_id = ?
	`, p.Name, formatTime(p.StartDate), nullTime(p.EndDate), nullTime(p.AutoCloseDate),
		p.IsActive, p.IsPaid, p.ID, p.TeamID)
	if err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}
	return expectOne(res, fmt.Sprintf("period %s", p.ID))
}

func (q *queries) GetPeriod(ctx context.Context, teamID tips.TeamID, id tips.PeriodID) (tips.Period, error) {
	periods, err := q.queryPeriods(ctx,
		"SELECT "+periodColumns+" FROM periods WHERE team_id = ? AND id = ?", teamID, id)
	if err != nil {
		return tips.Period{}, err
	}
	if len(periods) == 0 {
		return tips.Period{}, fmt.Errorf("period %s: %w", id, tips.ErrNotFound)
	}
	return periods[0], nil
}

func (q *queries) ListPeriods(ctx context.Context, teamID tips.TeamID) ([]tips.Period, error) {
	return q.queryPeriods(ctx,
		"SELECT "+periodColumns+" FROM periods WHERE team_id = ? ORDER BY rowid", teamID)
}

func (q *queries) ActivePeriod(ctx context.Context, teamID tips.TeamID) (tips.Period, error) {
	periods, err := q.queryPeriods(ctx,
		"SELECT "+periodColumns+" FROM periods WHERE team_id = ? AND is_active = 1", teamID)
	if err != nil {
		return tips.Period{}, err
	}
	if len(periods) == 0 {
		return tips.Period{}, fmt.Errorf("active period for team %s: %w", teamID, tips.ErrNotFound)
	}
	return periods[0], nil
}

func (q *queries) DeletePeriod(ctx context.Context, teamID tips.TeamID, id tips.PeriodID) error {
	if _, err := q.db.ExecContext(ctx, `
		DELETE FROM tips WHERE period_id IN (SELECT id FROM periods WHERE id = ? AND team_id = ?)
	`, id, teamID); err != nil {
		return fmt.Errorf("failed to delete tips: %w", err)
	}
	res, err := q.db.ExecContext(ctx, "DELETE FROM periods WHERE id = ? AND team_id = ?", id, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete period: %w", err)
	}
	return expectOne(res, fmt.Sprintf("period %s", id))
}

// queryPeriods loads periods and attaches their tips in insertion order.
func (q *queries) queryPeriods(ctx context.Context, query string, args ...any) ([]tips.Period, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}

	periods := []tips.Period{}
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		periods = append(periods, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// One connection: the period rows must be closed before the next query.
	for i := range periods {
		tipEntries, err := q.tipsFor(ctx, periods[i].ID)
		if err != nil {
			return nil, err
		}
		periods[i].Tips = tipEntries
	}
	return periods, nil
}

func scanPeriod(rows *sql.Rows) (tips.Period, error) {
	var (
		p                      tips.Period
		start                  string
		endDate, autoCloseDate sql.NullString
	)
	err := rows.Scan(&p.ID, &p.TeamID, &p.Name, &start, &endDate, &autoCloseDate, &p.IsActive, &p.IsPaid)
	if err != nil {
		return p, fmt.Errorf("failed to scan period: %w", err)
	}
	if p.StartDate, err = parseTime(start); err != nil {
		return p, err
	}
	if p.EndDate, err = parseNullTime(endDate); err != nil {
		return p, err
	}
	if p.AutoCloseDate, err = parseNullTime(autoCloseDate); err != nil {
		return p, err
	}
	return p, nil
}

// Tips

func (q *queries) AddTip(ctx context.Context, teamID tips.TeamID, tip tips.TipEntry) error {
	var exists int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM periods WHERE id = ? AND team_id = ?", tip.PeriodID, teamID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check period: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("period %s: %w", tip.PeriodID, tips.ErrNotFound)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tips (id, period_id, amount, date, note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tip.ID, tip.PeriodID, tip.Amount.String(), formatTime(tip.Date),
		nullString(tip.Note), nullString(tip.CreatedBy), formatTime(tip.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add tip: %w", err)
	}
	return nil
}

func (q *queries) tipsFor(ctx context.Context, periodID tips.PeriodID) ([]tips.TipEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, period_id, amount, date, note, created_by, created_at
		FROM tips WHERE period_id = ? ORDER BY rowid
	`, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tips: %w", err)
	}
	defer rows.Close()

	var out []tips.TipEntry
	for rows.Next() {
		var (
			t               tips.TipEntry
			amount          string
			date, createdAt string
			note, createdBy sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.PeriodID, &amount, &date, &note, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tip: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("tip %s amount: %w", t.ID, err)
		}
		if t.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		t.Note = note.String
		t.CreatedBy = createdBy.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// Members

// SaveMember inserts or updates name and balance. Registrations are managed
// through their own methods.
func (q *queries) SaveMember(ctx context.Context, m tips.TeamMember) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO members (id, team_id, name, balance)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			balance = excluded.balance
	`, m.ID, m.TeamID, m.Name, m.Balance.String())
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("member %q: %w", m.Name, tips.ErrDuplicateName)
		}
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

func (q *queries) GetMember(ctx context.Context, teamID tips.TeamID, id tips.MemberID) (tips.TeamMember, error) {
	members, err := q.queryMembers(ctx,
		"SELECT id, team_id, name, balance FROM members WHERE team_id = ? AND id = ?", teamID, id)
	if err != nil {
		return tips.TeamMember{}, err
	}
	if len(members) == 0 {
		return tips.TeamMember{}, fmt.Errorf("member %s: %w", id, tips.ErrNotFound)
	}
	return members[0], nil
}

func (q *queries) ListMembers(ctx context.Context, teamID tips.TeamID) ([]tips.TeamMember, error) {
	return q.queryMembers(ctx,
		"SELECT id, team_id, name, balance FROM members WHERE team_id = ? ORDER BY rowid", teamID)
}

func (q *queries) queryMembers(ctx context.Context, query string, args ...any) ([]tips.TeamMember, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}

	members := []tips.TeamMember{}
	for rows.Next() {
		var (
			m       tips.TeamMember
			balance string
		)
		if err := rows.Scan(&m.ID, &m.TeamID, &m.Name, &balance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if m.Balance, err = decimal.NewFromString(balance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("member %s balance: %w", m.ID, err)
		}
		members = append(members, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range members {
		regs, err := q.registrationsFor(ctx, members[i].ID)
		if err != nil {
			return nil, err
		}
		members[i].Registrations = regs
	}
	return members, nil
}

// Hour registrations

func (q *queries) AddHourRegistration(ctx context.Context, teamID tips.TeamID, r tips.HourRegistration) error {
	if _, err := q.GetMember(ctx, teamID, r.MemberID); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO hour_registrations (id, member_id, hours, date, created_by)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.MemberID, r.Hours.String(), formatTime(r.Date), nullString(r.CreatedBy))
	if err != nil {
		return fmt.Errorf("failed to add hour registration: %w", err)
	}
	return nil
}

func (q *queries) DeleteHourRegistrations(ctx context.Context, teamID tips.TeamID, memberID tips.MemberID, ids []tips.RegistrationID) error {
	if _, err := q.GetMember(ctx, teamID, memberID); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	unique := make(map[tips.RegistrationID]bool, len(ids))
	args := []any{memberID}
	for _, id := range ids {
		if !unique[id] {
			unique[id] = true
			args = append(args, id)
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unique)), ",")

	var found int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM hour_registrations WHERE member_id = ? AND id IN ("+placeholders+")", args...,
	).Scan(&found)
	if err != nil {
		return fmt.Errorf("failed to check hour registrations: %w", err)
	}
	if found != len(unique) {
		return fmt.Errorf("hour registrations of member %s: %w", memberID, tips.ErrNotFound)
	}

	_, err = q.db.ExecContext(ctx,
		"DELETE FROM hour_registrations WHERE member_id = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete hour registrations: %w", err)
	}
	return nil
}

func (q *queries) registrationsFor(ctx context.Context, memberID tips.MemberID) ([]tips.HourRegistration, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, member_id, hours, date, created_by
		FROM hour_registrations WHERE member_id = ? ORDER BY rowid
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hour registrations: %w", err)
	}
	defer rows.Close()

	var out []tips.HourRegistration
	for rows.Next() {
		var (
			r         tips.HourRegistration
			hours     string
			date      string
			createdBy sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.MemberID, &hours, &date, &createdBy); err != nil {
			return nil, fmt.Errorf("failed to scan hour registration: %w", err)
		}
		if r.Hours, err = decimal.NewFromString(hours); err != nil {
			return nil, fmt.Errorf("registration %s hours: %w", r.ID, err)
		}
		if r.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		r.CreatedBy = createdBy.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Payouts

func (q *queries) SavePayout(ctx context.Context, p tips.PayoutData) error {
	periodIDs, err := json.Marshal(p.PeriodIDs)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO payouts (id, team_id, date, rounding_step, period_ids_json)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.TeamID, formatTime(p.Date), string(p.RoundingStep), string(periodIDs))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("payout %s already exists", p.ID)
		}
		return fmt.Errorf("failed to save payout: %w", err)
	}

	for i, it := range p.Items {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO payout_items
			(payout_id, position, member_id, member_name, hours, amount, prior_balance, actual_amount, balance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, i, it.MemberID, it.MemberName, it.Hours.String(), it.Amount.String(),
			it.PriorBalance.String(), it.ActualAmount.String(), it.Balance.String())
		if err != nil {
			return fmt.Errorf("failed to save payout item: %w", err)
		}
	}
	return nil
}

func (q *queries) ListPayouts(ctx context.Context, teamID tips.TeamID) ([]tips.PayoutData, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, team_id, date, rounding_step, period_ids_json
		FROM payouts WHERE team_id = ? ORDER BY date, rowid
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}

	payouts := []tips.PayoutData{}
	for rows.Next() {
		var (
			p         tips.PayoutData
			date      string
			periodIDs string
		)
		if err := rows.Scan(&p.ID, &p.TeamID, &date, &p.RoundingStep, &periodIDs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		if p.Date, err = parseTime(date); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(periodIDs), &p.PeriodIDs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("payout %s period ids: %w", p.ID, err)
		}
		payouts = append(payouts, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range payouts {
		items, err := q.payoutItems(ctx, payouts[i].ID)
		if err != nil {
			return nil, err
		}
		payouts[i].Items = items
	}
	return payouts, nil
}

func (q *queries) payoutItems(ctx context.Context, payoutID tips.PayoutID) ([]tips.PayoutDistributionItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT member_id, member_name, hours, amount, prior_balance, actual_amount, balance
		FROM payout_items WHERE payout_id = ? ORDER BY position
	`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payout items: %w", err)
	}
	defer rows.Close()

	var out []tips.PayoutDistributionItem
	for rows.Next() {
		var (
			it                                    tips.PayoutDistributionItem
			hours, amount, prior, actual, balance string
		)
		if err := rows.Scan(&it.MemberID, &it.MemberName, &hours, &amount, &prior, &actual, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan payout item: %w", err)
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&it.Hours, hours}, {&it.Amount, amount}, {&it.PriorBalance, prior},
			{&it.ActualAmount, actual}, {&it.Balance, balance},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("payout %s item: %w", payoutID, err)
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, tips.ErrNotFound)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
