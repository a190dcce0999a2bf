package models

import "time"

// FocusStatus is the state of a live focus session.
type FocusStatus string

const (
	FocusRunning FocusStatus = "running"
	FocusPaused  FocusStatus = "paused"
)

// MessageRef locates a sent chat message so it can be edited later.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// IsZero reports whether the reference points at no message.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// FocusSession is the live state of a user's countdown timer.
type FocusSession struct {
	ID             string        `json:"id"`
	UserID         int64         `json:"user_id"`
	Task           string        `json:"task"`
	PlannedMinutes int           `json:"planned_minutes"`
	StartedAt      time.Time     `json:"started_at"`
	EndAt          time.Time     `json:"end_at"`
	Status         FocusStatus   `json:"status"`
	Remaining      time.Duration `json:"remaining"`
	Message        MessageRef    `json:"message"`
	Version        int64         `json:"version"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Planned returns the planned duration.
func (s *FocusSession) Planned() time.Duration {
	return time.Duration(s.PlannedMinutes) * time.Minute
}

// RemainingAt returns the time left at now. Paused sessions report their snapshot.
func (s *FocusSession) RemainingAt(now time.Time) time.Duration {
	if s.Status == FocusPaused {
		return s.Remaining
	}
	r := s.EndAt.Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// FocusedAt returns how long the user has actually focused at now, excluding paused time.
func (s *FocusSession) FocusedAt(now time.Time) time.Duration {
	f := s.Planned() - s.RemainingAt(now)
	if f < 0 {
		return 0
	}
	return f
}

// PomodoroOutcome records how a focus session ended.
type PomodoroOutcome string

const (
	OutcomeCompleted PomodoroOutcome = "completed"
	OutcomeStopped   PomodoroOutcome = "stopped"
)

// PomodoroRecord is the immutable archive of a finished focus session.
type PomodoroRecord struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Task            string          `json:"task"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	DurationSeconds int             `json:"duration_seconds"`
	Outcome         PomodoroOutcome `json:"outcome"`
}
