package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

// ErrNotFound is returned by rename and delete operations when no row matched.
var ErrNotFound = errors.New("record not found")

// sqlRepo implements the domain repositories over database/sql for both
// drivers. Queries are written with ? placeholders and rebound for Postgres.
type sqlRepo struct {
	db       *sql.DB
	name     string
	dollarPH bool
}

func (r *sqlRepo) q(query string) string {
	if !r.dollarPH {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *sqlRepo) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := r.db.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		slog.Error(r.name+"."+op+" failed", "error", err)
		return nil, persistErr(op, err)
	}
	return res, nil
}

// Close closes the database connection.
func (r *sqlRepo) Close() error {
	slog.Debug(r.name + ".Close: closing database connection")
	if err := r.db.Close(); err != nil {
		slog.Error(r.name+".Close failed", "error", err)
		return err
	}
	return nil
}

// --- users ---

func (r *sqlRepo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get user", err)
	}
	return &u, nil
}

func (r *sqlRepo) UpsertUser(ctx context.Context, u models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := r.exec(ctx, "UpsertUser",
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   plan_tier = excluded.plan_tier,
		   subscription_until = excluded.subscription_until,
		   trial_until = excluded.trial_until,
		   tz = excluded.tz,
		   morning_hour = excluded.morning_hour,
		   evening_hour = excluded.evening_hour,
		   language = excluded.language,
		   persona = excluded.persona,
		   ref_code = excluded.ref_code,
		   ref_count = excluded.ref_count`,
		u.ID, string(u.PlanTier), nilIfZeroTime(u.SubscriptionUntil), nilIfZeroTime(u.TrialUntil),
		u.Timezone, u.MorningHour, u.EveningHour, u.Locale, u.Persona, nilIfEmpty(u.RefCode), u.RefCount,
		u.CreatedAt.UTC(),
	)
	if err == nil {
		slog.Debug(r.name+".UpsertUser", "userID", u.ID)
	}
	return err
}

func (r *sqlRepo) SaveSettings(ctx context.Context, u models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := r.exec(ctx, "SaveSettings",
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   tz = excluded.tz,
		   morning_hour = excluded.morning_hour,
		   evening_hour = excluded.evening_hour,
		   language = excluded.language,
		   persona = excluded.persona`,
		u.ID, string(u.PlanTier), nilIfZeroTime(u.SubscriptionUntil), nilIfZeroTime(u.TrialUntil),
		u.Timezone, u.MorningHour, u.EveningHour, u.Locale, u.Persona, nilIfEmpty(u.RefCode), u.RefCount,
		u.CreatedAt.UTC(),
	)
	if err == nil {
		slog.Debug(r.name+".SaveSettings", "userID", u.ID)
	}
	return err
}

func (r *sqlRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, persistErr("list users", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, persistErr("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list users iteration", err)
	}
	return users, nil
}

func (r *sqlRepo) SetPlan(ctx context.Context, id int64, tier models.PlanTier, until time.Time) error {
	res, err := r.exec(ctx, "SetPlan",
		`UPDATE users SET plan_tier = ?, subscription_until = ? WHERE id = ?`,
		string(tier), until.UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set plan for user %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- entries ---

func (r *sqlRepo) SaveEntry(ctx context.Context, userID int64, date string, typ models.EntryType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode entry payload: %w", err)
	}
	_, err = r.exec(ctx, "SaveEntry",
		`INSERT INTO entries (user_id, date, type, data, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, date, type) DO UPDATE SET data = excluded.data`,
		userID, date, string(typ), string(data), time.Now().UTC(),
	)
	return err
}

func (r *sqlRepo) TodayHas(ctx context.Context, userID int64, typ models.EntryType, date string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT 1 FROM entries WHERE user_id = ? AND type = ? AND date = ? LIMIT 1`),
		userID, string(typ), date,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("today has", err)
	}
	return true, nil
}

func (r *sqlRepo) ListEntriesSince(ctx context.Context, userID int64, sinceDate string) ([]models.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT id, user_id, date, type, data, created_at FROM entries WHERE user_id = ? AND date >= ? ORDER BY date, id`),
		userID, sinceDate,
	)
	if err != nil {
		return nil, persistErr("list entries", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var e models.Entry
		var typ, data string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date, &typ, &data, &e.CreatedAt); err != nil {
			return nil, persistErr("scan entry", err)
		}
		e.Type = models.EntryType(typ)
		e.Payload = json.RawMessage(data)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list entries iteration", err)
	}
	return out, nil
}

// --- habits ---

func (r *sqlRepo) TickHabit(ctx context.Context, userID int64, name, today string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("tick habit begin", err)
	}
	defer tx.Rollback()

	var streak int
	var lastTick string
	err = tx.QueryRowContext(ctx,
		r.q(`SELECT streak, last_tick FROM habits WHERE user_id = ? AND name = ?`), userID, name,
	).Scan(&streak, &lastTick)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		streak = 1
		_, err = tx.ExecContext(ctx,
			r.q(`INSERT INTO habits (user_id, name, streak, last_tick, created_at) VALUES (?, ?, ?, ?, ?)`),
			userID, name, streak, today, time.Now().UTC(),
		)
	case err != nil:
		return 0, persistErr("tick habit lookup", err)
	default:
		streak = nextStreak(streak, lastTick, today)
		_, err = tx.ExecContext(ctx,
			r.q(`UPDATE habits SET streak = ?, last_tick = ? WHERE user_id = ? AND name = ?`),
			streak, today, userID, name,
		)
	}
	if err != nil {
		return 0, persistErr("tick habit write", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, persistErr("tick habit commit", err)
	}
	slog.Debug(r.name+".TickHabit", "userID", userID, "habit", name, "streak", streak)
	return streak, nil
}

func (r *sqlRepo) ListHabits(ctx context.Context, userID int64) ([]models.Habit, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT user_id, name, streak, last_tick FROM habits WHERE user_id = ? ORDER BY created_at, name`), userID)
	if err != nil {
		return nil, persistErr("list habits", err)
	}
	defer rows.Close()

	var out []models.Habit
	for rows.Next() {
		var h models.Habit
		if err := rows.Scan(&h.UserID, &h.Name, &h.Streak, &h.LastTick); err != nil {
			return nil, persistErr("scan habit", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list habits iteration", err)
	}
	return out, nil
}

func (r *sqlRepo) CountHabits(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM habits WHERE user_id = ?`), userID).Scan(&n); err != nil {
		return 0, persistErr("count habits", err)
	}
	return n, nil
}

func (r *sqlRepo) RenameHabit(ctx context.Context, userID int64, oldName, newName string) error {
	res, err := r.exec(ctx, "RenameHabit",
		`UPDATE habits SET name = ? WHERE user_id = ? AND name = ?`, newName, userID, oldName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rename habit %q: %w", oldName, ErrNotFound)
	}
	return nil
}

func (r *sqlRepo) DeleteHabit(ctx context.Context, userID int64, name string) error {
	res, err := r.exec(ctx, "DeleteHabit", `DELETE FROM habits WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete habit %q: %w", name, ErrNotFound)
	}
	return nil
}

// --- abstinence ---

// AddAbstinence starts a tracker; re-adding an existing name restarts its counter.
func (r *sqlRepo) AddAbstinence(ctx context.Context, userID int64, name, startDate string) error {
	_, err := r.exec(ctx, "AddAbstinence",
		`INSERT INTO abstinence (user_id, name, start_date, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, name) DO UPDATE SET start_date = excluded.start_date`,
		userID, name, startDate, time.Now().UTC(),
	)
	return err
}

func (r *sqlRepo) ListAbstinence(ctx context.Context, userID int64) ([]models.Abstinence, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT user_id, name, start_date FROM abstinence WHERE user_id = ? ORDER BY created_at, name`), userID)
	if err != nil {
		return nil, persistErr("list abstinence", err)
	}
	defer rows.Close()

	var out []models.Abstinence
	for rows.Next() {
		var a models.Abstinence
		if err := rows.Scan(&a.UserID, &a.Name, &a.StartDate); err != nil {
			return nil, persistErr("scan abstinence", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list abstinence iteration", err)
	}
	return out, nil
}

func (r *sqlRepo) DeleteAbstinence(ctx context.Context, userID int64, name string) error {
	res, err := r.exec(ctx, "DeleteAbstinence", `DELETE FROM abstinence WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete abstinence %q: %w", name, ErrNotFound)
	}
	return nil
}

// --- memories ---

func (r *sqlRepo) AddMemory(ctx context.Context, userID int64, kind models.MemoryKind, content string) error {
	_, err := r.exec(ctx, "AddMemory",
		`INSERT INTO memories (user_id, ts, kind, content) VALUES (?, ?, ?, ?)`,
		userID, time.Now().UTC(), string(kind), content,
	)
	return err
}

func (r *sqlRepo) RecentMemories(ctx context.Context, userID int64, n int) ([]models.MemoryNote, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT id, user_id, kind, content, ts FROM memories WHERE user_id = ? ORDER BY ts DESC, id DESC LIMIT ?`),
		userID, n,
	)
	if err != nil {
		return nil, persistErr("recent memories", err)
	}
	defer rows.Close()

	var out []models.MemoryNote
	for rows.Next() {
		var m models.MemoryNote
		var kind string
		if err := rows.Scan(&m.ID, &m.UserID, &kind, &m.Content, &m.CreatedAt); err != nil {
			return nil, persistErr("scan memory", err)
		}
		m.Kind = models.MemoryKind(kind)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("recent memories iteration", err)
	}
	return out, nil
}

func (r *sqlRepo) DeleteMemoriesSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	res, err := r.exec(ctx, "DeleteMemoriesSince",
		`DELETE FROM memories WHERE user_id = ? AND ts >= ?`, userID, since.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- moods ---

func (r *sqlRepo) SaveMood(ctx context.Context, m models.MoodRecord) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := r.exec(ctx, "SaveMood",
		`INSERT INTO mood (user_id, date, energy, mood, note, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.UserID, m.Date, m.Energy, m.Mood, m.Note, m.CreatedAt.UTC(),
	)
	return err
}

func (r *sqlRepo) ListMoodsSince(ctx context.Context, userID int64, sinceDate string) ([]models.MoodRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT id, user_id, date, energy, mood, note, created_at FROM mood WHERE user_id = ? AND date >= ? ORDER BY created_at, id`),
		userID, sinceDate,
	)
	if err != nil {
		return nil, persistErr("list moods", err)
	}
	defer rows.Close()

	var out []models.MoodRecord
	for rows.Next() {
		var m models.MoodRecord
		if err := rows.Scan(&m.ID, &m.UserID, &m.Date, &m.Energy, &m.Mood, &m.Note, &m.CreatedAt); err != nil {
			return nil, persistErr("scan mood", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list moods iteration", err)
	}
	return out, nil
}

// --- pomodoro ---

func (r *sqlRepo) LogPomodoro(ctx context.Context, p models.PomodoroRecord) error {
	_, err := r.exec(ctx, "LogPomodoro",
		`INSERT INTO pomodoro (user_id, task, started_at, finished_at, duration_seconds, status) VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Task, p.StartedAt.UTC(), p.FinishedAt.UTC(), p.DurationSeconds, string(p.Outcome),
	)
	if err == nil {
		slog.Debug(r.name+".LogPomodoro", "userID", p.UserID, "outcome", p.Outcome, "seconds", p.DurationSeconds)
	}
	return err
}

func (r *sqlRepo) CountPomodorosSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT COUNT(*) FROM pomodoro WHERE user_id = ? AND started_at >= ?`), userID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, persistErr("count pomodoros", err)
	}
	return n, nil
}

func (r *sqlRepo) ListPomodorosSince(ctx context.Context, userID int64, since time.Time) ([]models.PomodoroRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT id, user_id, task, started_at, finished_at, duration_seconds, status FROM pomodoro
		     WHERE user_id = ? AND started_at >= ? ORDER BY started_at, id`),
		userID, since.UTC(),
	)
	if err != nil {
		return nil, persistErr("list pomodoros", err)
	}
	defer rows.Close()

	var out []models.PomodoroRecord
	for rows.Next() {
		var p models.PomodoroRecord
		var status string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Task, &p.StartedAt, &p.FinishedAt, &p.DurationSeconds, &status); err != nil {
			return nil, persistErr("scan pomodoro", err)
		}
		p.Outcome = models.PomodoroOutcome(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list pomodoros iteration", err)
	}
	return out, nil
}

// --- profiles ---

func (r *sqlRepo) SaveProfile(ctx context.Context, userID int64, p models.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = r.exec(ctx, "SaveProfile",
		`INSERT INTO profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, string(data), time.Now().UTC(),
	)
	return err
}

func (r *sqlRepo) GetProfile(ctx context.Context, userID int64) (*models.Profile, error) {
	var data string
	err := r.db.QueryRowContext(ctx, r.q(`SELECT data FROM profiles WHERE user_id = ?`), userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get profile", err)
	}
	var p models.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode profile for user %d: %w", userID, err)
	}
	return &p, nil
}

// --- payments ---

func (r *sqlRepo) RecordPayment(ctx context.Context, p models.Payment) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	res, err := r.exec(ctx, "RecordPayment",
		`INSERT INTO payments (external_id, user_id, plan_tier, period, status, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (external_id) DO NOTHING`,
		p.ExternalID, p.UserID, string(p.PlanTier), p.Period, p.Status, p.ExpiresAt.UTC(), p.CreatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("record payment rows affected", err)
	}
	return n > 0, nil
}

// --- sessions ---

func (r *sqlRepo) GetFlowSession(ctx context.Context, userID int64) (*models.FlowSession, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+flowColumns+` FROM flow_sessions WHERE user_id = ?`), userID)
	s, err := scanFlowSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get flow session", err)
	}
	return &s, nil
}

func (r *sqlRepo) SaveFlowSession(ctx context.Context, s models.FlowSession, expectedVersion int64) error {
	if err := checkVersion("save flow session", s.Version, expectedVersion); err != nil {
		return err
	}
	answers, err := encodeAnswers(s.Answers)
	if err != nil {
		return err
	}
	var res sql.Result
	if expectedVersion == 0 {
		res, err = r.exec(ctx, "SaveFlowSession",
			`INSERT INTO flow_sessions (`+flowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (user_id) DO NOTHING`,
			s.UserID, string(s.Flow), string(s.Step), answers, s.Version, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
		)
	} else {
		res, err = r.exec(ctx, "SaveFlowSession",
			`UPDATE flow_sessions SET flow = ?, step = ?, answers = ?, version = ?, created_at = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			string(s.Flow), string(s.Step), answers, s.Version, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
			s.UserID, expectedVersion,
		)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save flow session for user %d at version %d: %w", s.UserID, expectedVersion, ErrVersionConflict)
	}
	return nil
}

func (r *sqlRepo) DeleteFlowSession(ctx context.Context, userID int64) error {
	_, err := r.exec(ctx, "DeleteFlowSession", `DELETE FROM flow_sessions WHERE user_id = ?`, userID)
	return err
}

func (r *sqlRepo) GetFocusSession(ctx context.Context, userID int64) (*models.FocusSession, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+focusColumns+` FROM focus_sessions WHERE user_id = ?`), userID)
	s, err := scanFocusSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get focus session", err)
	}
	return &s, nil
}

func (r *sqlRepo) SaveFocusSession(ctx context.Context, s models.FocusSession, expectedVersion int64) error {
	if err := checkVersion("save focus session", s.Version, expectedVersion); err != nil {
		return err
	}
	var res sql.Result
	var err error
	remainingMS := s.Remaining.Milliseconds()
	if expectedVersion == 0 {
		res, err = r.exec(ctx, "SaveFocusSession",
			`INSERT INTO focus_sessions (`+focusColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (user_id) DO NOTHING`,
			s.UserID, s.ID, s.Task, s.PlannedMinutes, s.StartedAt.UTC(), s.EndAt.UTC(), string(s.Status),
			remainingMS, s.Message.ChatID, s.Message.MessageID, s.Version, s.UpdatedAt.UTC(),
		)
	} else {
		res, err = r.exec(ctx, "SaveFocusSession",
			`UPDATE focus_sessions SET task = ?, planned_minutes = ?, started_at = ?, end_at = ?, status = ?,
			   remaining_ms = ?, chat_id = ?, message_id = ?, version = ?, updated_at = ?
			 WHERE user_id = ? AND id = ? AND version = ?`,
			s.Task, s.PlannedMinutes, s.StartedAt.UTC(), s.EndAt.UTC(), string(s.Status),
			remainingMS, s.Message.ChatID, s.Message.MessageID, s.Version, s.UpdatedAt.UTC(),
			s.UserID, s.ID, expectedVersion,
		)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save focus session %s at version %d: %w", s.ID, expectedVersion, ErrVersionConflict)
	}
	return nil
}

func (r *sqlRepo) DeleteFocusSession(ctx context.Context, userID int64, sessionID string) error {
	_, err := r.exec(ctx, "DeleteFocusSession",
		`DELETE FROM focus_sessions WHERE user_id = ? AND id = ?`, userID, sessionID)
	return err
}

func (r *sqlRepo) ListFocusSessions(ctx context.Context) ([]models.FocusSession, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+focusColumns+` FROM focus_sessions ORDER BY user_id`)
	if err != nil {
		return nil, persistErr("list focus sessions", err)
	}
	defer rows.Close()

	var out []models.FocusSession
	for rows.Next() {
		s, err := scanFocusSession(rows)
		if err != nil {
			return nil, persistErr("scan focus session", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list focus sessions iteration", err)
	}
	return out, nil
}
