package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/DailyMentor/internal/genai"
	"github.com/BTreeMap/DailyMentor/internal/messaging"
	"github.com/BTreeMap/DailyMentor/internal/models"
)

func (r *Router) habitsHub(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	habits, err := r.deps.Store.ListHabits(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	add := models.Button{Label: "➕ Добавить", Data: HabitsAdd}
	if len(habits) == 0 {
		return []models.OutMessage{{Text: r.t(u, "habits.empty"), Keyboard: models.Column(add)}}, nil
	}
	today := u.LocalDate(r.deps.Clock.Now())
	lines := make([]string, 0, len(habits))
	for _, h := range habits {
		mark := "▫️"
		if h.LastTick == today {
			mark = "✅"
		}
		lines = append(lines, fmt.Sprintf("%s %s — %d 🔥", mark, h.Name, h.Streak))
	}
	return []models.OutMessage{{
		Text: r.tf(u, "habits.list", strings.Join(lines, "\n")),
		Keyboard: models.Keyboard{
			models.Row(models.Button{Label: "✅ Отметить", Data: HabitsTick}, add),
			models.Row(models.Button{Label: "✏️ Переименовать", Data: HabitsRename}, models.Button{Label: "🗑️ Удалить", Data: HabitsDelete}),
		},
	}}, nil
}

func (r *Router) abstinenceHub(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	items, err := r.deps.Store.ListAbstinence(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	add := models.Button{Label: "➕ Новый трекер", Data: AbstinenceAdd}
	if len(items) == 0 {
		return []models.OutMessage{{Text: r.t(u, "abstinence.empty"), Keyboard: models.Column(add)}}, nil
	}
	today := u.LocalDate(r.deps.Clock.Now())
	lines := make([]string, 0, len(items))
	for _, a := range items {
		lines = append(lines, fmt.Sprintf("🚫 %s — %d дн.", a.Name, a.DaysSince(today)))
	}
	return []models.OutMessage{{
		Text:     r.tf(u, "abstinence.list", strings.Join(lines, "\n")),
		Keyboard: models.Keyboard{models.Row(add, models.Button{Label: "🗑️ Удалить", Data: AbstinenceDelete})},
	}}, nil
}

func (r *Router) settingsHub(_ context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	text := r.tf(u, "settings.menu", u.Timezone, u.MorningHour, u.EveningHour, u.Locale, genai.PersonaFor(u.Persona).Name)
	return []models.OutMessage{{
		Text: text,
		Keyboard: models.Keyboard{
			models.Row(models.Button{Label: "🌍 Часовой пояс", Data: SettingsTimezone}, models.Button{Label: "🗣️ Язык", Data: SettingsLanguage}),
			models.Row(models.Button{Label: "🌅 Утро", Data: SettingsMorning}, models.Button{Label: "🌙 Вечер", Data: SettingsEvening}),
			models.Row(models.Button{Label: "👤 Персона", Data: SettingsPersona}, models.Button{Label: "🧹 Очистить память", Data: SettingsClear}),
		},
	}}, nil
}

func (r *Router) billing(_ context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	now := r.deps.Clock.Now()
	var text string
	switch {
	case u.SubscriptionActive(now):
		text = r.tf(u, "billing.status", u.PlanTier, u.SubscriptionUntil.In(u.Location()).Format(models.DateLayout))
	case u.TrialActive(now):
		text = r.tf(u, "billing.trial", u.PlanTier, u.TrialUntil.In(u.Location()).Format(models.DateLayout))
	default:
		text = r.tf(u, "billing.status", u.PlanTier, "—")
	}
	msg := models.Text(text)
	if r.opts.PaymentURL != "" {
		msg.Keyboard = models.Column(models.Button{Label: "💳 Оформить подписку", URL: r.opts.PaymentURL})
	}
	return []models.OutMessage{msg}, nil
}
