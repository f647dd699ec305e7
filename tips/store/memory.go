// Package store provides an in-memory tips.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tiptop/tip-engine/tips"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by a single mutex. Records are
// copied on the way in and out, so callers never share slices with the store.
type Memory struct {
	mu       sync.RWMutex
	st       *state
	failNext []error
}

var _ tips.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// FailNextTx makes the next n WithTx calls return err without running fn.
// Used by tests to simulate a persistence outage.
func (m *Memory) FailNextTx(err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failNext = append(m.failNext, err)
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(tips.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return err
	}

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) GetSettings(ctx context.Context, teamID tips.TeamID) (tips.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetSettings(ctx, teamID)
}

func (m *Memory) SaveSettings(ctx context.Context, teamID tips.TeamID, s tips.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveSettings(ctx, teamID, s)
}

func (m *Memory) ListTeams(ctx context.Context) ([]tips.TeamID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListTeams(ctx)
}

func (m *Memory) CreatePeriod(ctx context.Context, p tips.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreatePeriod(ctx, p)
}

func (m *Memory) UpdatePeriod(ctx context.Context, p tips.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdatePeriod(ctx, p)
}

func (m *Memory) GetPeriod(ctx context.Context, teamID tips.TeamID, id tips.PeriodID) (tips.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPeriod(ctx, teamID, id)
}

func (m *Memory) ListPeriods(ctx context.Context, teamID tips.TeamID) ([]tips.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPeriods(ctx, teamID)
}

func (m *Memory) ActivePeriod(ctx context.Context, teamID tips.TeamID) (tips.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ActivePeriod(ctx, teamID)
}

func (m *Memory) DeletePeriod(ctx context.Context, teamID tips.TeamID, id tips.PeriodID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeletePeriod(ctx, teamID, id)
}

func (m *Memory) AddTip(ctx context.Context, teamID tips.TeamID, tip tips.TipEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AddTip(ctx, teamID, tip)
}

func (m *Memory) SaveMember(ctx context.Context, mem tips.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveMember(ctx, mem)
}

func (m *Memory) GetMember(ctx context.Context, teamID tips.TeamID, id tips.MemberID) (tips.TeamMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetMember(ctx, teamID, id)
}

func (m *Memory) ListMembers(ctx context.Context, teamID tips.TeamID) ([]tips.TeamMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListMembers(ctx, teamID)
}

func (m *Memory) AddHourRegistration(ctx context.Context, teamID tips.TeamID, r tips.HourRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AddHourRegistration(ctx, teamID, r)
}

func (m *Memory) DeleteHourRegistrations(ctx context.Context, teamID tips.TeamID, memberID tips.MemberID, ids []tips.RegistrationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteHourRegistrations(ctx, teamID, memberID, ids)
}

func (m *Memory) SavePayout(ctx context.Context, p tips.PayoutData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SavePayout(ctx, p)
}

func (m *Memory) ListPayouts(ctx context.Context, teamID tips.TeamID) ([]tips.PayoutData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPayouts(ctx, teamID)
}

// =============================================================================
// STATE - Unlocked implementation shared by Memory and its transactions
// =============================================================================

type state struct {
	teams map[tips.TeamID]*teamData
}

type teamData struct {
	settings *tips.Settings
	periods  []tips.Period
	members  []tips.TeamMember
	payouts  []tips.PayoutData
}

func newState() *state {
	return &state{teams: make(map[tips.TeamID]*teamData)}
}

func (s *state) team(id tips.TeamID) *teamData {
	t, ok := s.teams[id]
	if !ok {
		t = &teamData{}
		s.teams[id] = t
	}
	return t
}

func (s *state) clone() *state {
	out := newState()
	for id, t := range s.teams {
		c := &teamData{}
		if t.settings != nil {
			settings := *t.settings
			c.settings = &settings
		}
		for _, p := range t.periods {
			c.periods = append(c.periods, copyPeriod(p))
		}
		for _, m := range t.members {
			c.members = append(c.members, copyMember(m))
		}
		for _, p := range t.payouts {
			c.payouts = append(c.payouts, p.Clone())
		}
		out.teams[id] = c
	}
	return out
}

func (s *state) GetSettings(_ context.Context, teamID tips.TeamID) (tips.Settings, error) {
	t, ok := s.teams[teamID]
	if !ok || t.settings == nil {
		return tips.Settings{}, fmt.Errorf("settings for team %s: %w", teamID, tips.ErrNotFound)
	}
	return *t.settings, nil
}

func (s *state) SaveSettings(_ context.Context, teamID tips.TeamID, settings tips.Settings) error {
	s.team(teamID).settings = &settings
	return nil
}

func (s *state) ListTeams(_ context.Context) ([]tips.TeamID, error) {
	ids := make([]tips.TeamID, 0, len(s.teams))
	for id := range s.teams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *state) CreatePeriod(_ context.Context, p tips.Period) error {
	t := s.team(p.TeamID)
	for _, existing := range t.periods {
		if existing.ID == p.ID {
			return fmt.Errorf("period %s already exists", p.ID)
		}
	}
	t.periods = append(t.periods, copyPeriod(p))
	return nil
}

func (s *state) UpdatePeriod(_ context.Context, p tips.Period) error {
	i, err := s.periodIndex(p.TeamID, p.ID)
	if err != nil {
		return err
	}
	t := s.teams[p.TeamID]
	// Tips are only added through AddTip.
	updated := copyPeriod(p)
	updated.Tips = t.periods[i].Tips
	t.periods[i] = updated
	return nil
}

func (s *state) GetPeriod(_ context.Context, teamID tips.TeamID, id tips.PeriodID) (tips.Period, error) {
	i, err := s.periodIndex(teamID, id)
	if err != nil {
		return tips.Period{}, err
	}
	return copyPeriod(s.teams[teamID].periods[i]), nil
}

func (s *state) ListPeriods(_ context.Context, teamID tips.TeamID) ([]tips.Period, error) {
	t, ok := s.teams[teamID]
	if !ok {
		return []tips.Period{}, nil
	}
	out := make([]tips.Period, len(t.periods))
	for i, p := range t.periods {
		out[i] = copyPeriod(p)
	}
	return out, nil
}

func (s *state) ActivePeriod(_ context.Context, teamID tips.TeamID) (tips.Period, error) {
	if t, ok := s.teams[teamID]; ok {
		for _, p := range t.periods {
			if p.IsActive {
				return copyPeriod(p), nil
			}
		}
	}
	return tips.Period{}, fmt.Errorf("active period for team %s: %w", teamID, tips.ErrNotFound)
}

func (s *state) DeletePeriod(_ context.Context, teamID tips.TeamID, id tips.PeriodID) error {
	i, err := s.periodIndex(teamID, id)
	if err != nil {
		return err
	}
	t := s.teams[teamID]
	t.periods = append(t.periods[:i], t.periods[i+1:]...)
	return nil
}

func (s *state) AddTip(_ context.Context, teamID tips.TeamID, tip tips.TipEntry) error {
	i, err := s.periodIndex(teamID, tip.PeriodID)
	if err != nil {
		return err
	}
	p := &s.teams[teamID].periods[i]
	p.Tips = append(p.Tips, tip)
	return nil
}

func (s *state) periodIndex(teamID tips.TeamID, id tips.PeriodID) (int, error) {
	if t, ok := s.teams[teamID]; ok {
		for i, p := range t.periods {
			if p.ID == id {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("period %s: %w", id, tips.ErrNotFound)
}

func (s *state) SaveMember(_ context.Context, m tips.TeamMember) error {
	t := s.team(m.TeamID)
	for i, existing := range t.members {
		if existing.ID == m.ID {
			// Registrations are managed through their own methods.
			updated := copyMember(m)
			updated.Registrations = existing.Registrations
			t.members[i] = updated
			return nil
		}
	}
	for _, existing := range t.members {
		if strings.EqualFold(existing.Name, m.Name) {
			return fmt.Errorf("member %q: %w", m.Name, tips.ErrDuplicateName)
		}
	}
	t.members = append(t.members, copyMember(m))
	return nil
}

func (s *state) GetMember(_ context.Context, teamID tips.TeamID, id tips.MemberID) (tips.TeamMember, error) {
	i, err := s.memberIndex(teamID, id)
	if err != nil {
		return tips.TeamMember{}, err
	}
	return copyMember(s.teams[teamID].members[i]), nil
}

func (s *state) ListMembers(_ context.Context, teamID tips.TeamID) ([]tips.TeamMember, error) {
	t, ok := s.teams[teamID]
	if !ok {
		return []tips.TeamMember{}, nil
	}
	out := make([]tips.TeamMember, len(t.members))
	for i, m := range t.members {
		out[i] = copyMember(m)
	}
	return out, nil
}

func (s *state) AddHourRegistration(_ context.Context, teamID tips.TeamID, r tips.HourRegistration) error {
	i, err := s.memberIndex(teamID, r.MemberID)
	if err != nil {
		return err
	}
	m := &s.teams[teamID].members[i]
	m.Registrations = append(m.Registrations, r)
	return nil
}

func (s *state) DeleteHourRegistrations(_ context.Context, teamID tips.TeamID, memberID tips.MemberID, ids []tips.RegistrationID) error {
	i, err := s.memberIndex(teamID, memberID)
	if err != nil {
		return err
	}
	m := &s.teams[teamID].members[i]

	remove := make(map[tips.RegistrationID]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	kept := make([]tips.HourRegistration, 0, len(m.Registrations))
	for _, r := range m.Registrations {
		if remove[r.ID] {
			delete(remove, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	for id := range remove {
		return fmt.Errorf("hour registration %s: %w", id, tips.ErrNotFound)
	}
	m.Registrations = kept
	return nil
}

func (s *state) memberIndex(teamID tips.TeamID, id tips.MemberID) (int, error) {
	if t, ok := s.teams[teamID]; ok {
		for i, m := range t.members {
			if m.ID == id {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("member %s: %w", id, tips.ErrNotFound)
}

func (s *state) SavePayout(_ context.Context, p tips.PayoutData) error {
	t := s.team(p.TeamID)
	for _, existing := range t.payouts {
		if existing.ID == p.ID {
			return fmt.Errorf("payout %s already exists", p.ID)
		}
	}
	t.payouts = append(t.payouts, p.Clone())
	return nil
}

func (s *state) ListPayouts(_ context.Context, teamID tips.TeamID) ([]tips.PayoutData, error) {
	t, ok := s.teams[teamID]
	if !ok {
		return []tips.PayoutData{}, nil
	}
	out := make([]tips.PayoutData, len(t.payouts))
	for i, p := range t.payouts {
		out[i] = p.Clone()
	}
	return out, nil
}

func copyPeriod(p tips.Period) tips.Period {
	p.Tips = append([]tips.TipEntry(nil), p.Tips...)
	return p
}

func copyMember(m tips.TeamMember) tips.TeamMember {
	m.Registrations = append([]tips.HourRegistration(nil), m.Registrations...)
	return m
}
