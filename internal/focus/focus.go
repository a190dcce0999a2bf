// Package focus runs per-user countdown timers with pause, resume, stop and auto-complete.
//
// Live state is a models.FocusSession persisted through session.Manager. Each running
// session has one ticker goroutine bound to the (id, version) it was started with;
// any transition bumps the version, which turns older tickers into no-ops.
package focus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/session"
	"github.com/BTreeMap/DailyMentor/internal/store"
	"github.com/BTreeMap/DailyMentor/internal/texts"
)

var (
	// ErrTimerAlreadyActive is returned by Start when a running or paused session exists.
	ErrTimerAlreadyActive = errors.New("focus timer already active")
	// ErrNoActiveTimer is returned when a transition needs a session in another state.
	ErrNoActiveTimer = errors.New("no active focus timer")
)

// Control callbacks attached to the timer message.
const (
	ActionPause  = "focus:pause"
	ActionResume = "focus:resume"
	ActionStop   = "focus:stop"
	ActionDone   = "focus:done"
)

// DefaultTick is the display refresh interval.
const DefaultTick = time.Second

// Sender delivers and updates the timer message.
type Sender interface {
	Send(ctx context.Context, userID int64, msg models.OutMessage) (models.MessageRef, error)
	Edit(ctx context.Context, ref models.MessageRef, msg models.OutMessage) error
}

// Opts holds configuration for the Engine.
type Opts struct {
	Clock clock.Clock
	Tick  time.Duration
	Texts *texts.Catalog
}

// Option configures the Engine.
type Option func(*Opts)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) {
		o.Clock = c
	}
}

// WithTickInterval sets how often running timers refresh.
func WithTickInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.Tick = d
	}
}

// WithTexts sets the message catalog.
func WithTexts(c *texts.Catalog) Option {
	return func(o *Opts) {
		o.Texts = c
	}
}

type runner struct {
	id      string
	version int64
	cancel  context.CancelFunc
}

// Engine owns the focus timers of all users.
type Engine struct {
	sessions  *session.Manager
	pomodoros store.PomodoroRepo
	users     store.UserRepo
	sender    Sender
	clock     clock.Clock
	tick      time.Duration
	texts     *texts.Catalog

	mu      sync.Mutex
	runners map[int64]*runner
	closed  bool
	wg      sync.WaitGroup
}

// NewEngine creates a focus Engine.
func NewEngine(sessions *session.Manager, pomodoros store.PomodoroRepo, users store.UserRepo, sender Sender, opts ...Option) *Engine {
	cfg := Opts{Clock: clock.System, Tick: DefaultTick}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Texts == nil {
		cfg.Texts = texts.Default()
	}
	return &Engine{
		sessions:  sessions,
		pomodoros: pomodoros,
		users:     users,
		sender:    sender,
		clock:     cfg.Clock,
		tick:      cfg.Tick,
		texts:     cfg.Texts,
		runners:   make(map[int64]*runner),
	}
}

// Start begins a running session of minutes for u. The caller holds u's critical section.
func (e *Engine) Start(ctx context.Context, u models.User, minutes int, task string) error {
	existing, err := e.sessions.Focus(ctx, u.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrTimerAlreadyActive
	}

	now := e.clock.Now()
	s := &models.FocusSession{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		Task:           task,
		PlannedMinutes: minutes,
		StartedAt:      now,
		EndAt:          now.Add(time.Duration(minutes) * time.Minute),
		Status:         models.FocusRunning,
	}
	if err := e.sessions.CreateFocus(ctx, s); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return ErrTimerAlreadyActive
		}
		return err
	}
	// The controls go out only for a persisted session.
	ref, err := e.sender.Send(ctx, u.ID, e.render(u.Locale, s, now))
	if err != nil {
		slog.Warn("focus.Engine.Start: timer message not sent", "userID", u.ID, "error", err)
	} else {
		s.Message = ref
		if err := e.sessions.SaveFocus(ctx, s); err != nil {
			slog.Warn("focus.Engine.Start: timer message not attached", "userID", u.ID, "sessionID", s.ID, "error", err)
		}
	}
	slog.Info("focus.Engine.Start: session started", "userID", u.ID, "sessionID", s.ID, "minutes", minutes)
	e.startRunner(*s, u.Locale)
	return nil
}

// Pause snapshots the remaining time and stops the ticker.
func (e *Engine) Pause(ctx context.Context, u models.User) error {
	s, err := e.sessions.Focus(ctx, u.ID)
	if err != nil {
		return err
	}
	if s == nil || s.Status != models.FocusRunning {
		return ErrNoActiveTimer
	}
	now := e.clock.Now()
	remaining := s.RemainingAt(now)
	if remaining <= 0 {
		return e.finish(ctx, u.Locale, s, models.OutcomeCompleted, now)
	}
	s.Status = models.FocusPaused
	s.Remaining = remaining
	if err := e.sessions.SaveFocus(ctx, s); err != nil {
		return err
	}
	e.stopRunner(u.ID)
	slog.Debug("focus.Engine.Pause", "userID", u.ID, "remaining", remaining)
	e.edit(ctx, s, e.render(u.Locale, s, now))
	return nil
}

// Resume restarts a paused session from its snapshot.
func (e *Engine) Resume(ctx context.Context, u models.User) error {
	s, err := e.sessions.Focus(ctx, u.ID)
	if err != nil {
		return err
	}
	if s == nil || s.Status != models.FocusPaused {
		return ErrNoActiveTimer
	}
	now := e.clock.Now()
	s.EndAt = now.Add(s.Remaining)
	s.Remaining = 0
	s.Status = models.FocusRunning
	if err := e.sessions.SaveFocus(ctx, s); err != nil {
		return err
	}
	slog.Debug("focus.Engine.Resume", "userID", u.ID, "endAt", s.EndAt)
	e.edit(ctx, s, e.render(u.Locale, s, now))
	e.startRunner(*s, u.Locale)
	return nil
}

// Stop archives the session as stopped. It is a no-op without a session.
func (e *Engine) Stop(ctx context.Context, u models.User) error {
	s, err := e.sessions.Focus(ctx, u.ID)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	return e.finish(ctx, u.Locale, s, models.OutcomeStopped, e.clock.Now())
}

// Complete archives the session as completed.
func (e *Engine) Complete(ctx context.Context, u models.User) error {
	s, err := e.sessions.Focus(ctx, u.ID)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrNoActiveTimer
	}
	return e.finish(ctx, u.Locale, s, models.OutcomeCompleted, e.clock.Now())
}

// Recover resumes tickers for persisted running sessions and completes overdue ones.
// Paused sessions are left as they are.
func (e *Engine) Recover(ctx context.Context) error {
	list, err := e.sessions.ListFocus(ctx)
	if err != nil {
		return fmt.Errorf("recover focus sessions: %w", err)
	}
	for _, s := range list {
		if s.Status != models.FocusRunning {
			continue
		}
		locale := models.DefaultLocale
		if u, err := e.users.GetUser(ctx, s.UserID); err == nil && u != nil {
			locale = u.Locale
		}
		err := e.sessions.WithUser(ctx, s.UserID, func(ctx context.Context) error {
			cur, err := e.sessions.Focus(ctx, s.UserID)
			if err != nil || cur == nil || cur.ID != s.ID || cur.Status != models.FocusRunning {
				return err
			}
			now := e.clock.Now()
			if !now.Before(cur.EndAt) {
				return e.finish(ctx, locale, cur, models.OutcomeCompleted, now)
			}
			e.startRunner(*cur, locale)
			return nil
		})
		if err != nil {
			slog.Error("focus.Engine.Recover: session not recovered", "userID", s.UserID, "sessionID", s.ID, "error", err)
		}
	}
	slog.Info("focus.Engine.Recover: done", "sessions", len(list))
	return nil
}

// Close cancels every ticker and waits for them to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for uid, r := range e.runners {
		r.cancel()
		delete(e.runners, uid)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// finish archives s with outcome, deletes it and shows the final message.
func (e *Engine) finish(ctx context.Context, locale string, s *models.FocusSession, outcome models.PomodoroOutcome, now time.Time) error {
	focused := s.FocusedAt(now)
	rec := models.PomodoroRecord{
		UserID:          s.UserID,
		Task:            s.Task,
		StartedAt:       s.StartedAt,
		FinishedAt:      now,
		DurationSeconds: int(focused.Round(time.Second) / time.Second),
		Outcome:         outcome,
	}
	if err := e.pomodoros.LogPomodoro(ctx, rec); err != nil {
		return err
	}
	if err := e.sessions.EndFocus(ctx, s.UserID, s.ID); err != nil {
		return err
	}
	e.stopRunner(s.UserID)
	slog.Info("focus.Engine.finish: session archived", "userID", s.UserID, "sessionID", s.ID, "outcome", outcome, "seconds", rec.DurationSeconds)

	key := "focus.completed"
	if outcome == models.OutcomeStopped {
		key = "focus.stopped"
	}
	// stopRunner cancels ctx when finish runs on the ticker's goroutine.
	e.edit(context.WithoutCancel(ctx), s, models.OutMessage{Text: e.texts.Format(locale, key, int(focused/time.Minute))})
	return nil
}

func (e *Engine) edit(ctx context.Context, s *models.FocusSession, msg models.OutMessage) {
	if s.Message.IsZero() {
		return
	}
	if err := e.sender.Edit(ctx, s.Message, msg); err != nil {
		slog.Warn("focus.Engine.edit: timer message not updated", "userID", s.UserID, "error", err)
	}
}
