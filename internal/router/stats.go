package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/DailyMentor/internal/flow"
	"github.com/BTreeMap/DailyMentor/internal/genai"
	"github.com/BTreeMap/DailyMentor/internal/messaging"
	"github.com/BTreeMap/DailyMentor/internal/models"
)

// WeekDays is the window of the weekly report, today included.
const WeekDays = 7

// DayStats summarizes the user's current local day.
func (r *Router) DayStats(ctx context.Context, u models.User) (models.DayStats, error) {
	now := r.deps.Clock.Now()
	st := models.DayStats{Date: u.LocalDate(now)}

	entries, err := r.deps.Store.ListEntriesSince(ctx, u.ID, st.Date)
	if err != nil {
		return st, err
	}
	for _, e := range entries {
		if e.Date != st.Date {
			continue
		}
		switch e.Type {
		case models.EntryMorning:
			st.HasMorning = true
		case models.EntryEvening:
			st.HasEvening = true
		}
	}

	moods, err := r.deps.Store.ListMoodsSince(ctx, u.ID, st.Date)
	if err != nil {
		return st, err
	}
	for _, m := range moods {
		if m.Date != st.Date {
			continue
		}
		st.MoodCount++
		st.LastEnergy, st.LastMood = m.Energy, m.Mood
	}

	pomodoros, err := r.deps.Store.ListPomodorosSince(ctx, u.ID, u.StartOfLocalDay(now))
	if err != nil {
		return st, err
	}
	seconds := 0
	for _, p := range pomodoros {
		seconds += p.DurationSeconds
	}
	st.FocusMinutes = seconds / 60

	habits, err := r.deps.Store.ListHabits(ctx, u.ID)
	if err != nil {
		return st, err
	}
	for _, h := range habits {
		if h.LastTick == st.Date {
			st.HabitsTicked++
		}
	}
	return st, nil
}

// WeekStats summarizes the last WeekDays local days.
func (r *Router) WeekStats(ctx context.Context, u models.User) (models.WeekStats, error) {
	now := r.deps.Clock.Now()
	start := u.StartOfLocalDay(now).AddDate(0, 0, -(WeekDays - 1))
	since := start.Format(models.DateLayout)
	st := models.WeekStats{DailyActivity: make(map[string]int)}

	entries, err := r.deps.Store.ListEntriesSince(ctx, u.ID, since)
	if err != nil {
		return st, err
	}
	st.EntriesCount = len(entries)
	for _, e := range entries {
		st.DailyActivity[e.Date]++
	}

	moods, err := r.deps.Store.ListMoodsSince(ctx, u.ID, since)
	if err != nil {
		return st, err
	}
	if len(moods) > 0 {
		total := 0
		for _, m := range moods {
			total += m.Energy
			st.DailyActivity[m.Date]++
		}
		st.AvgEnergy = float64(total) / float64(len(moods))
	}

	pomodoros, err := r.deps.Store.ListPomodorosSince(ctx, u.ID, start)
	if err != nil {
		return st, err
	}
	seconds := 0
	for _, p := range pomodoros {
		seconds += p.DurationSeconds
		st.DailyActivity[u.LocalDate(p.StartedAt)]++
	}
	st.FocusMinutes = seconds / 60
	return st, nil
}

func (r *Router) dayStats(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	st, err := r.DayStats(ctx, u)
	if err != nil {
		return nil, err
	}
	text := r.tf(u, "stats.day", st.Date, r.yesNo(u, st.HasMorning), r.yesNo(u, st.HasEvening), st.MoodCount, st.FocusMinutes, st.HabitsTicked)
	return []models.OutMessage{{Text: text, Keyboard: flowNext()}}, nil
}

func (r *Router) yesNo(u models.User, v bool) string {
	if v {
		return "✅ " + r.t(u, "word.yes")
	}
	return "▫️ " + r.t(u, "word.no")
}

func flowNext() models.Keyboard {
	return models.Column(models.Button{Label: "🏠 Главное меню", Data: flow.NavMenu})
}

func (r *Router) weekly(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	text, err := r.weeklyReport(ctx, u)
	if err != nil {
		return nil, err
	}
	return []models.OutMessage{models.Text(text)}, nil
}

// weeklyReport renders the weekly report as prose, or as raw metrics when generation fails.
func (r *Router) weeklyReport(ctx context.Context, u models.User) (string, error) {
	st, err := r.WeekStats(ctx, u)
	if err != nil {
		return "", err
	}
	body := r.tf(u, "weekly.metrics", st.EntriesCount, st.AvgEnergy, st.FocusMinutes, genai.FormatActivity(st.DailyActivity))
	if r.deps.LLM != nil {
		prose, err := genai.GenerateUnique(ctx, r.deps.LLM, genai.WeeklyRequest(u, st))
		if err == nil && prose != "" {
			body = prose
		} else {
			slog.Warn("Router.weeklyReport: using raw metrics", "userID", u.ID, "error", err)
		}
	}
	return r.tf(u, "weekly.report", body), nil
}

// Remind delivers a scheduled reminder to userID. Journal reminders are skipped
// when today's entry exists or a dialogue is open.
func (r *Router) Remind(ctx context.Context, userID int64, kind models.ReminderKind) error {
	return r.deps.Sessions.WithUser(ctx, userID, func(ctx context.Context) error {
		stored, err := r.deps.Store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if stored == nil {
			slog.Debug("Router.Remind: unknown user, skipping", "userID", userID, "kind", kind)
			return nil
		}
		u := *stored

		var msg models.OutMessage
		switch kind {
		case models.ReminderMorning, models.ReminderEvening:
			skip, err := r.skipJournalReminder(ctx, u, kind)
			if err != nil || skip {
				return err
			}
			msg = r.journalReminder(u, kind)
		case models.ReminderWeekly:
			text, err := r.weeklyReport(ctx, u)
			if err != nil {
				return err
			}
			msg = models.Text(text)
		default:
			return fmt.Errorf("unknown reminder kind %q", kind)
		}

		if _, err := r.deps.Sender.Send(ctx, u.ID, msg); err != nil {
			return fmt.Errorf("send %s to %d: %w", kind, u.ID, err)
		}
		slog.Info("Router.Remind: reminder sent", "userID", u.ID, "kind", kind)
		return nil
	})
}

func (r *Router) skipJournalReminder(ctx context.Context, u models.User, kind models.ReminderKind) (bool, error) {
	typ := models.EntryMorning
	if kind == models.ReminderEvening {
		typ = models.EntryEvening
	}
	done, err := r.deps.Store.TodayHas(ctx, u.ID, typ, u.LocalDate(r.deps.Clock.Now()))
	if err != nil {
		return false, err
	}
	if done {
		slog.Debug("Router.Remind: entry exists, skipping", "userID", u.ID, "kind", kind)
		return true, nil
	}
	active, err := r.deps.Flows.Active(ctx, u.ID)
	if err != nil {
		return false, err
	}
	if active != nil {
		slog.Debug("Router.Remind: dialogue open, skipping", "userID", u.ID, "kind", kind, "flow", active.Flow)
		return true, nil
	}
	return false, nil
}

func (r *Router) journalReminder(u models.User, kind models.ReminderKind) models.OutMessage {
	if kind == models.ReminderEvening {
		return models.OutMessage{
			Text:     r.t(u, "reminder.evening"),
			Keyboard: models.Column(models.Button{Label: "🌙 Подвести итоги", Data: StartEvening}),
		}
	}
	return models.OutMessage{
		Text:     r.t(u, "reminder.morning"),
		Keyboard: models.Column(models.Button{Label: "🌅 Начать день", Data: StartMorning}),
	}
}
