package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

// Manager owns the per-user critical section and the live session records.
//
// The flow and focus accessors assume the caller is inside WithUser for the
// same user; the version check in the store catches anyone who is not.
type Manager struct {
	repo   store.SessionRepo
	locker *Locker
	clock  clock.Clock
}

// Opts holds configuration for the Manager.
type Opts struct {
	Clock clock.Clock
}

// Option configures a Manager.
type Option func(*Opts)

// WithClock sets the time source used for session timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) {
		o.Clock = c
	}
}

// NewManager creates a Manager over repo.
func NewManager(repo store.SessionRepo, opts ...Option) *Manager {
	cfg := Opts{Clock: clock.System}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{repo: repo, locker: NewLocker(), clock: cfg.Clock}
}

// Clock returns the manager's time source.
func (m *Manager) Clock() clock.Clock {
	return m.clock
}

// WithUser runs fn inside the user's critical section.
func (m *Manager) WithUser(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	unlock, err := m.locker.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Close waits for in-flight critical sections and rejects new ones.
func (m *Manager) Close() {
	slog.Debug("session.Manager.Close: draining critical sections")
	m.locker.Close()
}

// Flow returns the user's active flow session, or nil.
func (m *Manager) Flow(ctx context.Context, userID int64) (*models.FlowSession, error) {
	return m.repo.GetFlowSession(ctx, userID)
}

// StartFlow replaces any active flow with a fresh session at step.
func (m *Manager) StartFlow(ctx context.Context, userID int64, flow models.FlowName, step models.StepID) (*models.FlowSession, error) {
	prev, err := m.repo.GetFlowSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	s := &models.FlowSession{UserID: userID, Flow: flow, Step: step, CreatedAt: now, UpdatedAt: now}
	var expected int64
	if prev != nil {
		expected = prev.Version
		slog.Debug("session.Manager.StartFlow: superseding flow", "userID", userID, "previous", prev.Flow, "next", flow)
	}
	s.Version = expected + 1
	if err := m.repo.SaveFlowSession(ctx, *s, expected); err != nil {
		return nil, fmt.Errorf("start flow %s: %w", flow, err)
	}
	return s, nil
}

// SaveFlow persists s as the successor of its current version and bumps s.Version.
func (m *Manager) SaveFlow(ctx context.Context, s *models.FlowSession) error {
	next := *s.Clone()
	next.Version = s.Version + 1
	next.UpdatedAt = m.clock.Now()
	if err := m.repo.SaveFlowSession(ctx, next, s.Version); err != nil {
		return err
	}
	*s = next
	return nil
}

// EndFlow deletes the user's flow session. It is idempotent.
func (m *Manager) EndFlow(ctx context.Context, userID int64) error {
	return m.repo.DeleteFlowSession(ctx, userID)
}

// Focus returns the user's live focus session, or nil.
func (m *Manager) Focus(ctx context.Context, userID int64) (*models.FocusSession, error) {
	return m.repo.GetFocusSession(ctx, userID)
}

// CreateFocus inserts a new focus session; it fails with store.ErrVersionConflict if one exists.
func (m *Manager) CreateFocus(ctx context.Context, s *models.FocusSession) error {
	s.Version = 1
	s.UpdatedAt = m.clock.Now()
	return m.repo.SaveFocusSession(ctx, *s, 0)
}

// SaveFocus persists s as the successor of its current version and bumps s.Version.
func (m *Manager) SaveFocus(ctx context.Context, s *models.FocusSession) error {
	next := *s
	next.Version = s.Version + 1
	next.UpdatedAt = m.clock.Now()
	if err := m.repo.SaveFocusSession(ctx, next, s.Version); err != nil {
		return err
	}
	*s = next
	return nil
}

// EndFocus deletes the focus session if it is still sessionID.
func (m *Manager) EndFocus(ctx context.Context, userID int64, sessionID string) error {
	return m.repo.DeleteFocusSession(ctx, userID, sessionID)
}

// ListFocus returns every persisted live focus session.
func (m *Manager) ListFocus(ctx context.Context) ([]models.FocusSession, error) {
	return m.repo.ListFocusSessions(ctx)
}
