package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiptop/tip-engine/tips"
)

// =============================================================================
// PERIOD LIFECYCLE
// =============================================================================
//
//   (none) --AddTip / StartNewPeriod--> Active
//   Active --EndCurrentPeriod / auto-close / StartNewPeriod--> Closed
//   Closed --MarkPeriodsAsPaid--> Paid
//
// Paid is terminal. Closed periods never reopen.

const (
	triggerManual = "manual"
	triggerAuto   = "auto"
	triggerNew    = "new_period"
	triggerStale  = "stale"
)

// TipInput is a tip to log. Date defaults to now.
type TipInput struct {
	Amount decimal.Decimal
	Note   string
	Date   *time.Time
}

// AddTip logs a tip into the team's active period. With no active period one
// is opened first; an active period already past its auto-close deadline is
// closed and replaced, so a late tip never lands in a stale window.
func (e *Engine) AddTip(ctx context.Context, teamID tips.TeamID, actor string, in TipInput) (tips.TipEntry, error) {
	if in.Amount.IsNegative() {
		return tips.TipEntry{}, &tips.ValidationError{Field: "amount", Message: "must not be negative"}
	}

	unlock := e.lockTeam(teamID)
	defer unlock()

	now := e.clock.Now()
	tip := tips.TipEntry{
		ID:        tips.TipID(e.newID()),
		Amount:    in.Amount,
		Date:      now,
		Note:      strings.TrimSpace(in.Note),
		CreatedBy: actor,
		CreatedAt: now,
	}
	if in.Date != nil {
		tip.Date = *in.Date
	}

	var tr transition
	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		settings, err := e.loadSettings(ctx, tx, teamID)
		if err != nil {
			return err
		}
		active, err := tx.ActivePeriod(ctx, teamID)
		switch {
		case errors.Is(err, tips.ErrNotFound):
			active, err = e.openPeriod(ctx, tx, teamID, settings, now)
			if err != nil {
				return err
			}
			tr.opened = &active
		case err != nil:
			return err
		case isOverdue(active, settings, now):
			closed, err := closePeriod(ctx, tx, active, now)
			if err != nil {
				return err
			}
			tr.closed, tr.trigger = &closed, triggerStale
			active, err = e.openPeriod(ctx, tx, teamID, settings, now)
			if err != nil {
				return err
			}
			tr.opened = &active
		}
		tip.PeriodID = active.ID
		return tx.AddTip(ctx, teamID, tip)
	})
	if err != nil {
		return tips.TipEntry{}, tips.Persistence("add tip", err)
	}

	e.applied(tr)
	e.metrics.tipLogged()
	e.log.Info("tip logged", "team", teamID, "period", tip.PeriodID,
		"amount", tip.Amount.StringFixed(2), "by", actor)
	return tip, nil
}

// StartNewPeriod closes the active period, if any, and opens a new one.
func (e *Engine) StartNewPeriod(ctx context.Context, teamID tips.TeamID) (tips.Period, error) {
	unlock := e.lockTeam(teamID)
	defer unlock()

	now := e.clock.Now()
	var tr transition
	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		settings, err := e.loadSettings(ctx, tx, teamID)
		if err != nil {
			return err
		}
		active, err := tx.ActivePeriod(ctx, teamID)
		switch {
		case err == nil:
			closed, err := closePeriod(ctx, tx, active, now)
			if err != nil {
				return err
			}
			tr.closed, tr.trigger = &closed, triggerNew
		case !errors.Is(err, tips.ErrNotFound):
			return err
		}
		opened, err := e.openPeriod(ctx, tx, teamID, settings, now)
		if err != nil {
			return err
		}
		tr.opened = &opened
		return nil
	})
	if err != nil {
		return tips.Period{}, tips.Persistence("start period", err)
	}

	e.applied(tr)
	return *tr.opened, nil
}

// EndCurrentPeriod closes the active period. With no active period it is a
// no-op and returns nil.
func (e *Engine) EndCurrentPeriod(ctx context.Context, teamID tips.TeamID) (*tips.Period, error) {
	unlock := e.lockTeam(teamID)
	defer unlock()

	now := e.clock.Now()
	var tr transition
	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		active, err := tx.ActivePeriod(ctx, teamID)
		if errors.Is(err, tips.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		closed, err := closePeriod(ctx, tx, active, now)
		if err != nil {
			return err
		}
		tr.closed, tr.trigger = &closed, triggerManual
		return nil
	})
	if err != nil {
		return nil, tips.Persistence("end period", err)
	}

	e.applied(tr)
	return tr.closed, nil
}

// CheckAutoClose closes the active period if auto-close is on and its
// deadline has passed, then opens the next period. It returns the closed
// period, or nil when nothing was due.
func (e *Engine) CheckAutoClose(ctx context.Context, teamID tips.TeamID) (*tips.Period, error) {
	unlock := e.lockTeam(teamID)
	defer unlock()

	now := e.clock.Now()
	var tr transition
	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		settings, err := e.loadSettings(ctx, tx, teamID)
		if err != nil {
			return err
		}
		active, err := tx.ActivePeriod(ctx, teamID)
		if errors.Is(err, tips.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !isOverdue(active, settings, now) {
			return nil
		}
		closed, err := closePeriod(ctx, tx, active, now)
		if err != nil {
			return err
		}
		tr.closed, tr.trigger = &closed, triggerAuto
		opened, err := e.openPeriod(ctx, tx, teamID, settings, now)
		if err != nil {
			return err
		}
		tr.opened = &opened
		return nil
	})
	if err != nil {
		return nil, tips.Persistence("auto-close period", err)
	}

	e.applied(tr)
	return tr.closed, nil
}

// DeletePeriod removes an unpaid period and its tips. Paid periods are part of
// a payout's audit trail and can't be deleted.
func (e *Engine) DeletePeriod(ctx context.Context, teamID tips.TeamID, periodID tips.PeriodID) error {
	unlock := e.lockTeam(teamID)
	defer unlock()

	var deleted tips.Period
	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		p, err := tx.GetPeriod(ctx, teamID, periodID)
		if err != nil {
			return err
		}
		if p.IsPaid {
			return &tips.StateConflictError{PeriodID: p.ID, State: p.Status(), Operation: "delete"}
		}
		deleted = p
		return tx.DeletePeriod(ctx, teamID, periodID)
	})
	if err != nil {
		return tips.Persistence("delete period", err)
	}

	if deleted.IsActive {
		e.disarm(deleted.ID)
	}
	e.log.Info("period deleted", "team", teamID, "period", periodID,
		"tips", len(deleted.Tips), "total", deleted.TotalTips().StringFixed(2))
	return nil
}

func (e *Engine) ListPeriods(ctx context.Context, teamID tips.TeamID) ([]tips.Period, error) {
	periods, err := e.store.ListPeriods(ctx, teamID)
	if err != nil {
		return nil, tips.Persistence("list periods", err)
	}
	return periods, nil
}

func (e *Engine) GetPeriod(ctx context.Context, teamID tips.TeamID, periodID tips.PeriodID) (tips.Period, error) {
	p, err := e.store.GetPeriod(ctx, teamID, periodID)
	if err != nil {
		return tips.Period{}, tips.Persistence("get period", err)
	}
	return p, nil
}

// =============================================================================
// TRANSITION HELPERS - Run inside a transaction
// =============================================================================

// transition records what a committed transaction did so timers, metrics and
// logs are only touched after the store agreed.
type transition struct {
	closed  *tips.Period
	trigger string
	opened  *tips.Period
}

func (e *Engine) applied(tr transition) {
	if tr.closed != nil {
		e.disarm(tr.closed.ID)
		e.metrics.periodClosed(tr.trigger)
		e.log.Info("period closed", "team", tr.closed.TeamID, "period", tr.closed.ID,
			"name", tr.closed.Name, "trigger", tr.trigger,
			"total", tr.closed.TotalTips().StringFixed(2))
	}
	if tr.opened != nil {
		e.rearm(*tr.opened)
		e.metrics.periodStarted()
		args := []any{"team", tr.opened.TeamID, "period", tr.opened.ID, "name", tr.opened.Name}
		if tr.opened.AutoCloseDate != nil {
			args = append(args, "auto_close", tr.opened.AutoCloseDate.Format(time.RFC3339))
		}
		e.log.Info("period started", args...)
	}
}

func (e *Engine) openPeriod(ctx context.Context, tx tips.Store, teamID tips.TeamID, s tips.Settings, now time.Time) (tips.Period, error) {
	p := tips.Period{
		ID:            tips.PeriodID(e.newID()),
		TeamID:        teamID,
		Name:          tips.PeriodName(tips.NamingDay(now, s), s.PeriodDuration),
		StartDate:     now,
		AutoCloseDate: autoCloseDate(now, s, now),
		IsActive:      true,
	}
	if err := tx.CreatePeriod(ctx, p); err != nil {
		return tips.Period{}, err
	}
	return p, nil
}

func closePeriod(ctx context.Context, tx tips.Store, p tips.Period, now time.Time) (tips.Period, error) {
	p.IsActive = false
	p.EndDate = &now
	if err := tx.UpdatePeriod(ctx, p); err != nil {
		return tips.Period{}, err
	}
	return p, nil
}

// isOverdue reports whether an active period is past its auto-close deadline.
func isOverdue(p tips.Period, s tips.Settings, now time.Time) bool {
	return s.AutoClosePeriods && p.AutoCloseDate != nil && !now.Before(*p.AutoCloseDate)
}
