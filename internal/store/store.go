// Package store provides storage backends for DailyMentor.
//
// Every repository is implemented three times: SQLite (default, file in the
// state directory), PostgreSQL (when the DSN looks like a Postgres URL), and
// an in-memory store used by tests and dry runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

var (
	// ErrPersistence classifies any failure of the backing database.
	ErrPersistence = errors.New("persistence error")
	// ErrVersionConflict is returned when a compare-and-swap save finds a different version.
	ErrVersionConflict = errors.New("session version conflict")
)

// PersistenceError wraps a driver error with the failing operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets callers match any PersistenceError with errors.Is(err, ErrPersistence).
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// UserRepo persists users.
type UserRepo interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpsertUser(ctx context.Context, u models.User) error
	// SaveSettings creates the user when missing, otherwise writes only the
	// timezone, reminder hours, locale and persona. Plan and trial columns are left alone.
	SaveSettings(ctx context.Context, u models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
	SetPlan(ctx context.Context, id int64, tier models.PlanTier, until time.Time) error
}

// EntryRepo persists morning and evening journal entries, one per user, date and type.
type EntryRepo interface {
	SaveEntry(ctx context.Context, userID int64, date string, typ models.EntryType, payload any) error
	TodayHas(ctx context.Context, userID int64, typ models.EntryType, date string) (bool, error)
	ListEntriesSince(ctx context.Context, userID int64, sinceDate string) ([]models.Entry, error)
}

// HabitRepo persists habits and their streaks.
type HabitRepo interface {
	// TickHabit marks the habit done for today, creating it when missing, and returns the streak.
	TickHabit(ctx context.Context, userID int64, name, today string) (int, error)
	ListHabits(ctx context.Context, userID int64) ([]models.Habit, error)
	CountHabits(ctx context.Context, userID int64) (int, error)
	RenameHabit(ctx context.Context, userID int64, oldName, newName string) error
	DeleteHabit(ctx context.Context, userID int64, name string) error
}

// AbstinenceRepo persists abstinence trackers.
type AbstinenceRepo interface {
	AddAbstinence(ctx context.Context, userID int64, name, startDate string) error
	ListAbstinence(ctx context.Context, userID int64) ([]models.Abstinence, error)
	DeleteAbstinence(ctx context.Context, userID int64, name string) error
}

// MemoryRepo persists memory notes used as LLM context.
type MemoryRepo interface {
	AddMemory(ctx context.Context, userID int64, kind models.MemoryKind, content string) error
	// RecentMemories returns up to n notes, newest first.
	RecentMemories(ctx context.Context, userID int64, n int) ([]models.MemoryNote, error)
	DeleteMemoriesSince(ctx context.Context, userID int64, since time.Time) (int, error)
}

// MoodRepo persists mood check-ins.
type MoodRepo interface {
	SaveMood(ctx context.Context, m models.MoodRecord) error
	ListMoodsSince(ctx context.Context, userID int64, sinceDate string) ([]models.MoodRecord, error)
}

// PomodoroRepo archives finished focus sessions.
type PomodoroRepo interface {
	LogPomodoro(ctx context.Context, r models.PomodoroRecord) error
	CountPomodorosSince(ctx context.Context, userID int64, since time.Time) (int, error)
	ListPomodorosSince(ctx context.Context, userID int64, since time.Time) ([]models.PomodoroRecord, error)
}

// ProfileRepo persists the synthesized user profile.
type ProfileRepo interface {
	SaveProfile(ctx context.Context, userID int64, p models.Profile) error
	GetProfile(ctx context.Context, userID int64) (*models.Profile, error)
}

// PaymentRepo records billing events.
type PaymentRepo interface {
	// RecordPayment inserts a payment and returns false if the external id was already recorded.
	RecordPayment(ctx context.Context, p models.Payment) (bool, error)
}

// SessionRepo persists live flow and focus sessions with version-checked saves.
//
// Save methods require s.Version == expectedVersion+1. An expectedVersion of 0
// means no row may exist yet. A mismatch returns ErrVersionConflict.
type SessionRepo interface {
	GetFlowSession(ctx context.Context, userID int64) (*models.FlowSession, error)
	SaveFlowSession(ctx context.Context, s models.FlowSession, expectedVersion int64) error
	DeleteFlowSession(ctx context.Context, userID int64) error

	GetFocusSession(ctx context.Context, userID int64) (*models.FocusSession, error)
	SaveFocusSession(ctx context.Context, s models.FocusSession, expectedVersion int64) error
	// DeleteFocusSession removes the session only if its id still matches.
	DeleteFocusSession(ctx context.Context, userID int64, sessionID string) error
	ListFocusSessions(ctx context.Context) ([]models.FocusSession, error)
}

// Store is the full persistence contract used by the bot.
type Store interface {
	UserRepo
	EntryRepo
	HabitRepo
	AbstinenceRepo
	MemoryRepo
	MoodRepo
	PomodoroRepo
	ProfileRepo
	PaymentRepo
	SessionRepo
	Close() error
}

// DurableStore is a Store that also backs the job queue, outbox and inbound dedup.
type DurableStore interface {
	Store
	JobRepo
	OutboxRepo
	DedupRepo
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open picks a backend by DSN type.
func Open(dsn string) (DurableStore, error) {
	slog.Debug("store.Open", "dsnType", DetectDSNType(dsn))
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
