/*
Package engine coordinates the tip pool: period lifecycle, member hours and
settlement.

PURPOSE:
  The tips package holds pure calculators. This package owns the
  stateful parts around them: it reads and writes through a tips.TxStore,
  asks a clock.Clock for the time, and arms auto-close timers.

CONCURRENCY:
  Every mutating operation takes a per-team mutex and holds it until the
  store has committed. Two operations on the same team therefore never
  interleave, so a team can never end up with two active periods, and a
  tip is never logged into a period that is being closed.

FILES:
  - engine.go: Engine, options, team locks, settings
  - lifecycle.go: period state machine and tip logging
  - members.go: team members and hour registrations
  - settlement.go: distribution, preview, settlement and retry
  - scheduler.go: auto-close timers and the safety sweep
  - metrics.go: Prometheus collectors

SEE ALSO:
  - tips/store.go: persistence boundary
  - api/server.go: HTTP surface over Engine
*/
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiptop/tip-engine/clock"
	"github.com/tiptop/tip-engine/tips"
)

// Options configures an Engine. Zero values pick sensible defaults.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *Metrics
	// NewID generates record identifiers. Defaults to uuid.NewString.
	NewID func() string
}

// Engine is safe for concurrent use.
type Engine struct {
	store   tips.TxStore
	clock   clock.Clock
	log     *slog.Logger
	metrics *Metrics
	newID   func() string

	locksMu sync.Mutex
	locks   map[tips.TeamID]*sync.Mutex

	// pending holds settlements whose commit failed, keyed by team.
	pendingMu sync.Mutex
	pending   map[tips.TeamID]*pendingSettlement

	sched scheduler
}

func New(store tips.TxStore, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	e := &Engine{
		store:   store,
		clock:   opts.Clock,
		log:     opts.Logger.With("component", "engine"),
		metrics: opts.Metrics,
		newID:   opts.NewID,
		locks:   make(map[tips.TeamID]*sync.Mutex),
		pending: make(map[tips.TeamID]*pendingSettlement),
	}
	e.sched.timers = make(map[tips.PeriodID]*autoCloseTimer)
	return e
}

// lockTeam serializes all mutations for one team. The returned func unlocks.
func (e *Engine) lockTeam(teamID tips.TeamID) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[teamID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[teamID] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// =============================================================================
// SETTINGS
// =============================================================================

// GetSettings returns the team's settings, or the defaults if none were saved.
func (e *Engine) GetSettings(ctx context.Context, teamID tips.TeamID) (tips.Settings, error) {
	return e.loadSettings(ctx, e.store, teamID)
}

func (e *Engine) loadSettings(ctx context.Context, st tips.Store, teamID tips.TeamID) (tips.Settings, error) {
	s, err := st.GetSettings(ctx, teamID)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, tips.ErrNotFound):
		return tips.DefaultSettings(), nil
	case errors.Is(err, tips.ErrConfiguration):
		e.log.Warn("stored settings are malformed, using defaults", "team", teamID, "error", err)
		return tips.DefaultSettings(), nil
	default:
		return tips.Settings{}, tips.Persistence("load settings", err)
	}
}

// UpdateSettings validates and saves settings, then recomputes the auto-close
// deadline of the active period and re-arms its timer.
func (e *Engine) UpdateSettings(ctx context.Context, teamID tips.TeamID, s tips.Settings) (tips.Settings, error) {
	if err := s.Validate(); err != nil {
		return tips.Settings{}, err
	}

	unlock := e.lockTeam(teamID)
	defer unlock()

	now := e.clock.Now()
	var active *tips.Period
	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		if err := tx.SaveSettings(ctx, teamID, s); err != nil {
			return err
		}
		p, err := tx.ActivePeriod(ctx, teamID)
		if errors.Is(err, tips.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		p.AutoCloseDate = autoCloseDate(p.StartDate, s, now)
		active = &p
		return tx.UpdatePeriod(ctx, p)
	})
	if err != nil {
		return tips.Settings{}, tips.Persistence("update settings", err)
	}

	e.log.Info("settings updated", "team", teamID,
		"duration", s.PeriodDuration, "auto_close", s.AutoClosePeriods,
		"aligned", s.AlignWithCalendar, "closing_time", s.ClosingTime.String(),
		"rounding_step", s.RoundingStep)
	if active != nil {
		e.rearm(*active)
	}
	return s, nil
}

// autoCloseDate is nil when auto-close is off.
func autoCloseDate(start time.Time, s tips.Settings, now time.Time) *time.Time {
	if !s.AutoClosePeriods {
		return nil
	}
	d := tips.ComputeAutoCloseDate(start, s, now)
	return &d
}
