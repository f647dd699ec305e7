package engine

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiptop/tip-engine/tips"
)

// =============================================================================
// MEMBERS AND HOURS
// =============================================================================

// AddMember creates a member with a zero balance. Names are unique per team,
// ignoring case.
func (e *Engine) AddMember(ctx context.Context, teamID tips.TeamID, name string) (tips.TeamMember, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return tips.TeamMember{}, &tips.ValidationError{Field: "name", Message: "is required"}
	}

	unlock := e.lockTeam(teamID)
	defer unlock()

	m := tips.TeamMember{
		ID:      tips.MemberID(e.newID()),
		TeamID:  teamID,
		Name:    name,
		Balance: decimal.Zero,
	}
	if err := e.store.SaveMember(ctx, m); err != nil {
		return tips.TeamMember{}, tips.Persistence("add member", err)
	}
	e.log.Info("member added", "team", teamID, "member", m.ID, "name", name)
	return m, nil
}

func (e *Engine) ListMembers(ctx context.Context, teamID tips.TeamID) ([]tips.TeamMember, error) {
	members, err := e.store.ListMembers(ctx, teamID)
	if err != nil {
		return nil, tips.Persistence("list members", err)
	}
	return members, nil
}

// HoursInput is an hour registration to add. Date defaults to now.
type HoursInput struct {
	Hours decimal.Decimal
	Date  *time.Time
}

// AddHours registers worked hours for a member. Hours must not be negative;
// use CorrectHours to subtract.
func (e *Engine) AddHours(ctx context.Context, teamID tips.TeamID, actor string, memberID tips.MemberID, in HoursInput) (tips.HourRegistration, error) {
	if in.Hours.IsNegative() {
		return tips.HourRegistration{}, &tips.ValidationError{Field: "hours", Message: "must not be negative"}
	}
	return e.registerHours(ctx, teamID, actor, memberID, in)
}

// CorrectHours registers a signed correction. The member's total may not drop
// below zero.
func (e *Engine) CorrectHours(ctx context.Context, teamID tips.TeamID, actor string, memberID tips.MemberID, in HoursInput) (tips.HourRegistration, error) {
	return e.registerHours(ctx, teamID, actor, memberID, in)
}

func (e *Engine) registerHours(ctx context.Context, teamID tips.TeamID, actor string, memberID tips.MemberID, in HoursInput) (tips.HourRegistration, error) {
	unlock := e.lockTeam(teamID)
	defer unlock()

	now := e.clock.Now()
	r := tips.HourRegistration{
		ID:        tips.RegistrationID(e.newID()),
		MemberID:  memberID,
		Hours:     in.Hours,
		Date:      now,
		CreatedBy: actor,
	}
	if in.Date != nil {
		r.Date = *in.Date
	}

	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		m, err := tx.GetMember(ctx, teamID, memberID)
		if err != nil {
			return err
		}
		if m.Hours().Add(r.Hours).IsNegative() {
			return &tips.ValidationError{Field: "hours", Message: "correction would make total hours negative"}
		}
		return tx.AddHourRegistration(ctx, teamID, r)
	})
	if err != nil {
		return tips.HourRegistration{}, tips.Persistence("register hours", err)
	}
	e.log.Info("hours registered", "team", teamID, "member", memberID,
		"hours", r.Hours.String(), "by", actor)
	return r, nil
}

// DeleteHourRegistration removes one registration, as long as the member's
// total stays non-negative.
func (e *Engine) DeleteHourRegistration(ctx context.Context, teamID tips.TeamID, memberID tips.MemberID, id tips.RegistrationID) error {
	unlock := e.lockTeam(teamID)
	defer unlock()

	err := e.store.WithTx(ctx, func(tx tips.Store) error {
		m, err := tx.GetMember(ctx, teamID, memberID)
		if err != nil {
			return err
		}
		for _, r := range m.Registrations {
			if r.ID == id && m.Hours().Sub(r.Hours).IsNegative() {
				return &tips.ValidationError{Field: "registration", Message: "deleting it would make total hours negative"}
			}
		}
		return tx.DeleteHourRegistrations(ctx, teamID, memberID, []tips.RegistrationID{id})
	})
	if err != nil {
		return tips.Persistence("delete hours", err)
	}
	e.log.Info("hours deleted", "team", teamID, "member", memberID, "registration", id)
	return nil
}
