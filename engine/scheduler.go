/*
scheduler.go - Auto-close timers

PURPOSE:
  Closes active periods when their auto-close deadline passes and opens the
  next one.

DESIGN:
  - One cancellable timer per active period, armed through the injected
    clock.Clock at the period's AutoCloseDate
  - Lifecycle operations re-arm or cancel the timer after they commit
  - A timer that fires runs CheckAutoClose under the team lock, so it loses
    cleanly to a concurrent explicit end: whichever commits first wins and
    the other sees no active period to close
  - An optional sweep re-checks every team at a fixed interval, catching
    deadlines missed while the process was down

USAGE:
  eng.StartScheduler(ctx, time.Minute)
  defer eng.StopScheduler()

SEE ALSO:
  - lifecycle.go: CheckAutoClose
  - tips/schedule.go: ComputeAutoCloseDate
*/
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tiptop/tip-engine/clock"
	"github.com/tiptop/tip-engine/tips"
)

type scheduler struct {
	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	sweep    clock.Handle
	timers   map[tips.PeriodID]*autoCloseTimer
}

type autoCloseTimer struct {
	teamID tips.TeamID
	at     time.Time
	handle clock.Handle
}

// StartScheduler arms a timer for every team's active period and, when
// sweepInterval is positive, starts the periodic sweep. Deadlines that passed
// while the scheduler was stopped fire right away.
func (e *Engine) StartScheduler(ctx context.Context, sweepInterval time.Duration) error {
	teams, err := e.store.ListTeams(ctx)
	if err != nil {
		return tips.Persistence("list teams", err)
	}

	e.sched.mu.Lock()
	if e.sched.running {
		e.sched.mu.Unlock()
		return nil
	}
	e.sched.ctx, e.sched.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.sched.running = true
	e.sched.interval = sweepInterval
	e.sched.mu.Unlock()

	for _, teamID := range teams {
		p, err := e.store.ActivePeriod(ctx, teamID)
		if errors.Is(err, tips.ErrNotFound) {
			continue
		}
		if err != nil {
			e.log.Error("scheduler: load active period", "team", teamID, "error", err)
			continue
		}
		e.rearm(p)
	}
	if sweepInterval > 0 {
		e.scheduleSweep()
	}

	e.log.Info("scheduler started", "teams", len(teams), "timers", e.armedTimers(),
		"sweep_interval", sweepInterval.String())
	return nil
}

// StopScheduler cancels every timer and the sweep. Calls already running are
// not interrupted.
func (e *Engine) StopScheduler() {
	e.sched.mu.Lock()
	defer e.sched.mu.Unlock()

	if !e.sched.running {
		return
	}
	for id, t := range e.sched.timers {
		t.handle.Stop()
		delete(e.sched.timers, id)
	}
	if e.sched.sweep != nil {
		e.sched.sweep.Stop()
		e.sched.sweep = nil
	}
	e.sched.cancel()
	e.sched.running = false
	e.metrics.timers(0)
	e.log.Info("scheduler stopped")
}

// SweepAutoClose runs CheckAutoClose for every team and returns how many
// periods it closed.
func (e *Engine) SweepAutoClose(ctx context.Context) (int, error) {
	teams, err := e.store.ListTeams(ctx)
	if err != nil {
		return 0, tips.Persistence("list teams", err)
	}

	closed := 0
	var errs []error
	for _, teamID := range teams {
		p, err := e.CheckAutoClose(ctx, teamID)
		if err != nil {
			e.log.Error("sweep: auto-close failed", "team", teamID, "error", err)
			errs = append(errs, err)
			continue
		}
		if p != nil {
			closed++
		}
	}
	if closed > 0 {
		e.log.Info("sweep completed", "closed", closed)
	}
	return closed, errors.Join(errs...)
}

// NextAutoClose returns when the armed timer for a period fires.
func (e *Engine) NextAutoClose(periodID tips.PeriodID) (time.Time, bool) {
	e.sched.mu.Lock()
	defer e.sched.mu.Unlock()
	t, ok := e.sched.timers[periodID]
	if !ok {
		return time.Time{}, false
	}
	return t.at, true
}

// =============================================================================
// TIMERS
// =============================================================================

// rearm replaces the period's timer. Closed periods and periods without a
// deadline end up with no timer. A stopped scheduler arms nothing.
func (e *Engine) rearm(p tips.Period) {
	e.sched.mu.Lock()
	defer e.sched.mu.Unlock()

	e.disarmLocked(p.ID)
	if !e.sched.running || !p.IsActive || p.AutoCloseDate == nil {
		e.metrics.timers(len(e.sched.timers))
		return
	}

	t := &autoCloseTimer{teamID: p.TeamID, at: *p.AutoCloseDate}
	delay := t.at.Sub(e.clock.Now())
	t.handle = e.clock.AfterFunc(delay, func() { e.fire(p.ID, t) })
	e.sched.timers[p.ID] = t
	e.metrics.timers(len(e.sched.timers))
}

func (e *Engine) disarm(periodID tips.PeriodID) {
	e.sched.mu.Lock()
	defer e.sched.mu.Unlock()
	e.disarmLocked(periodID)
	e.metrics.timers(len(e.sched.timers))
}

func (e *Engine) disarmLocked(periodID tips.PeriodID) {
	if t, ok := e.sched.timers[periodID]; ok {
		t.handle.Stop()
		delete(e.sched.timers, periodID)
	}
}

func (e *Engine) fire(periodID tips.PeriodID, t *autoCloseTimer) {
	e.sched.mu.Lock()
	if e.sched.timers[periodID] != t {
		// Replaced or cancelled after the callback was already on its way.
		e.sched.mu.Unlock()
		return
	}
	delete(e.sched.timers, periodID)
	ctx := e.sched.ctx
	e.sched.mu.Unlock()

	closed, err := e.CheckAutoClose(ctx, t.teamID)
	if err != nil {
		e.log.Error("auto-close failed", "team", t.teamID, "period", periodID, "error", err)
		return
	}
	if closed != nil {
		return
	}

	// Not due yet, e.g. the deadline moved. Arm whatever is active now.
	p, err := e.store.ActivePeriod(ctx, t.teamID)
	if err != nil {
		if !errors.Is(err, tips.ErrNotFound) {
			e.log.Error("auto-close: reload active period", "team", t.teamID, "error", err)
		}
		return
	}
	if p.AutoCloseDate == nil || !p.AutoCloseDate.After(e.clock.Now()) {
		// Deadline passed but auto-close is off; leave it to the next change.
		return
	}
	e.rearm(p)
}

func (e *Engine) scheduleSweep() {
	e.sched.mu.Lock()
	defer e.sched.mu.Unlock()
	if !e.sched.running || e.sched.interval <= 0 {
		return
	}
	ctx := e.sched.ctx
	e.sched.sweep = e.clock.AfterFunc(e.sched.interval, func() {
		if _, err := e.SweepAutoClose(ctx); err != nil {
			e.log.Warn("sweep finished with errors", "error", err)
		}
		e.scheduleSweep()
	})
}

func (e *Engine) armedTimers() int {
	e.sched.mu.Lock()
	defer e.sched.mu.Unlock()
	return len(e.sched.timers)
}
