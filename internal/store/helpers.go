package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZeroTime maps a nil or zero time to NULL and normalizes the rest to UTC.
func nilIfZeroTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

const outboxColumns = `id, user_id, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.UserID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

const userColumns = `id, plan_tier, subscription_until, trial_until, tz, morning_hour, evening_hour, language, persona, ref_code, ref_count, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var tier string
	var subUntil, trialUntil sql.NullTime
	var refCode sql.NullString
	err := row.Scan(&u.ID, &tier, &subUntil, &trialUntil, &u.Timezone, &u.MorningHour, &u.EveningHour,
		&u.Locale, &u.Persona, &refCode, &u.RefCount, &u.CreatedAt)
	if err != nil {
		return u, err
	}
	u.PlanTier = models.PlanTier(tier)
	if subUntil.Valid {
		u.SubscriptionUntil = &subUntil.Time
	}
	if trialUntil.Valid {
		u.TrialUntil = &trialUntil.Time
	}
	u.RefCode = refCode.String
	return u, nil
}

const flowColumns = `user_id, flow, step, answers, version, created_at, updated_at`

func scanFlowSession(row rowScanner) (models.FlowSession, error) {
	var s models.FlowSession
	var flow, step, answers string
	if err := row.Scan(&s.UserID, &flow, &step, &answers, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	s.Flow = models.FlowName(flow)
	s.Step = models.StepID(step)
	if answers != "" {
		if err := json.Unmarshal([]byte(answers), &s.Answers); err != nil {
			return s, fmt.Errorf("decode flow answers: %w", err)
		}
	}
	return s, nil
}

func encodeAnswers(a []models.Answer) (string, error) {
	if a == nil {
		a = []models.Answer{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode flow answers: %w", err)
	}
	return string(b), nil
}

const focusColumns = `user_id, id, task, planned_minutes, started_at, end_at, status, remaining_ms, chat_id, message_id, version, updated_at`

func scanFocusSession(row rowScanner) (models.FocusSession, error) {
	var s models.FocusSession
	var status string
	var remainingMS int64
	err := row.Scan(&s.UserID, &s.ID, &s.Task, &s.PlannedMinutes, &s.StartedAt, &s.EndAt, &status,
		&remainingMS, &s.Message.ChatID, &s.Message.MessageID, &s.Version, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.Status = models.FocusStatus(status)
	s.Remaining = time.Duration(remainingMS) * time.Millisecond
	return s, nil
}

// checkVersion enforces the save contract shared by all session backends.
func checkVersion(op string, version, expected int64) error {
	if version != expected+1 {
		return fmt.Errorf("%s: version %d does not follow expected %d: %w", op, version, expected, ErrVersionConflict)
	}
	return nil
}

// nextStreak computes the streak after ticking a habit on today.
// Ticking twice on one day is idempotent; a gap of more than one day resets to 1.
func nextStreak(streak int, lastTick, today string) int {
	if lastTick == today {
		return streak
	}
	last, err := time.Parse(models.DateLayout, lastTick)
	if err != nil {
		return 1
	}
	cur, err := time.Parse(models.DateLayout, today)
	if err != nil {
		return 1
	}
	if cur.Sub(last) == 24*time.Hour {
		return streak + 1
	}
	return 1
}
