package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

// Weekly report slot in the user's local time.
const (
	WeeklyDay  = time.Sunday
	WeeklyHour = 18
)

// ReminderPayload is the JSON payload of reminder jobs.
type ReminderPayload struct {
	UserID int64 `json:"user_id"`
}

// Reminder delivers one reminder to a user.
type Reminder interface {
	Remind(ctx context.Context, userID int64, kind models.ReminderKind) error
}

// ReminderPlanner enqueues reminder jobs for users whose local reminder slot is now.
type ReminderPlanner struct {
	users store.UserRepo
	jobs  store.JobRepo
	clock clock.Clock
}

// NewReminderPlanner creates a planner.
func NewReminderPlanner(users store.UserRepo, jobs store.JobRepo, c clock.Clock) *ReminderPlanner {
	if c == nil {
		c = clock.System
	}
	return &ReminderPlanner{users: users, jobs: jobs, clock: c}
}

// Due returns the reminder kinds whose slot is the current local minute for u.
func Due(u models.User, now time.Time) []models.ReminderKind {
	local := now.In(u.Location())
	if local.Minute() != 0 {
		return nil
	}
	var kinds []models.ReminderKind
	if local.Hour() == u.MorningHour {
		kinds = append(kinds, models.ReminderMorning)
	}
	if local.Hour() == u.EveningHour {
		kinds = append(kinds, models.ReminderEvening)
	}
	if local.Weekday() == WeeklyDay && local.Hour() == WeeklyHour {
		kinds = append(kinds, models.ReminderWeekly)
	}
	return kinds
}

// DedupeKey identifies one reminder per user, kind and local day.
func DedupeKey(kind models.ReminderKind, userID int64, localDate string) string {
	return fmt.Sprintf("%s:%d:%s", kind, userID, localDate)
}

// Plan enqueues every reminder due now. Re-running it within the same local day is harmless.
func (p *ReminderPlanner) Plan(ctx context.Context) error {
	users, err := p.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	now := p.clock.Now()
	queued := 0
	for _, u := range users {
		for _, kind := range Due(u, now) {
			payload, err := json.Marshal(ReminderPayload{UserID: u.ID})
			if err != nil {
				return err
			}
			key := DedupeKey(kind, u.ID, u.LocalDate(now))
			if _, err := p.jobs.EnqueueJob(ctx, string(kind), now, string(payload), key); err != nil {
				slog.Error("ReminderPlanner.Plan: enqueue failed", "userID", u.ID, "kind", kind, "error", err)
				continue
			}
			queued++
		}
	}
	slog.Debug("ReminderPlanner.Plan", "users", len(users), "queued", queued)
	return nil
}

// Run is the cron task form of Plan.
func (p *ReminderPlanner) Run(ctx context.Context) func() {
	return func() {
		if err := p.Plan(ctx); err != nil {
			slog.Error("ReminderPlanner.Run: planning failed", "error", err)
		}
	}
}

// ReminderHandler adapts r to a job handler for kind.
func ReminderHandler(r Reminder, kind models.ReminderKind) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p ReminderPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return r.Remind(ctx, p.UserID, kind)
	}
}

// RegisterReminderHandlers wires every reminder kind into runner.
func RegisterReminderHandlers(runner *store.JobRunner, r Reminder) {
	for _, kind := range []models.ReminderKind{models.ReminderMorning, models.ReminderEvening, models.ReminderWeekly} {
		runner.RegisterHandler(string(kind), ReminderHandler(r, kind))
	}
}
