package flow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

// MemoryRetention is the window the clear-memory setting deletes.
const MemoryRetention = 7 * 24 * time.Hour

var (
	timezoneOptions = labels("Europe/Moscow", "Europe/Amsterdam", "Europe/London", "America/New_York", "Asia/Tokyo")
	languageOptions = []Option{{Label: "🇷🇺 Русский", Value: "ru"}, {Label: "🇺🇸 English", Value: "en"}}
	clearOptions    = []Option{{Label: "Да, удалить", Value: "yes"}, {Label: "Нет, оставить", Value: "no"}}
)

func hourOptions(from, to int) []Option {
	var opts []Option
	for h := from; h <= to; h++ {
		opts = append(opts, Option{Label: fmt.Sprintf("%02d:00", h), Value: strconv.Itoa(h)})
	}
	return opts
}

// settingStep declares a one-step settings flow that applies its value to the user.
func (e *Engine) settingStep(name models.FlowName, text string, opts []Option, parse func(*Ctx, string) ([]string, error), apply func(u *models.User, v string)) *Definition {
	return &Definition{
		Name: name,
		Steps: []Step{{
			ID:      "value",
			Prompt:  prompt(text),
			Options: staticOptions(opts...),
			PerRow:  2,
			Parse:   parse,
		}},
		Finish: func(ctx context.Context, c *Ctx) (Response, error) {
			u := c.User
			apply(&u, c.Session.Value("value"))
			if err := e.deps.Store.SaveSettings(ctx, u); err != nil {
				return Response{}, err
			}
			return reply(models.OutMessage{Text: e.t(u, "settings.saved"), Keyboard: NextKeyboard(), Replace: true}), nil
		},
	}
}

func (e *Engine) registerSettingsFlows() {
	morningHours := hourOptions(7, 10)
	eveningHours := hourOptions(18, 21)

	e.Register(e.settingStep(SettingsTimezone,
		"🌍 Часовой пояс\n\nВыбери из списка или введи свой (например: Europe/Moscow):",
		timezoneOptions, parseTimezone,
		func(u *models.User, v string) { u.Timezone = v }))
	e.Register(e.settingStep(SettingsMorning,
		"🌅 Выбери время утреннего опроса:",
		morningHours, parseChoice(morningHours),
		func(u *models.User, v string) { u.MorningHour = atoi(v) }))
	e.Register(e.settingStep(SettingsEvening,
		"🌙 Выбери время вечернего опроса:",
		eveningHours, parseChoice(eveningHours),
		func(u *models.User, v string) { u.EveningHour = atoi(v) }))
	e.Register(e.settingStep(SettingsLanguage,
		"🗣️ Язык",
		languageOptions, parseChoice(languageOptions),
		func(u *models.User, v string) { u.Locale = v }))
	e.Register(e.settingStep(SettingsPersona,
		"👤 Персона",
		personaOptions, parseChoice(personaOptions),
		func(u *models.User, v string) { u.Persona = v }))

	e.Register(&Definition{
		Name: SettingsClear,
		Steps: []Step{{
			ID:      "confirm",
			Prompt:  prompt("🧹 Очистить память\n\nУдалить данные за 7 дней?"),
			Options: staticOptions(clearOptions...),
			PerRow:  2,
			Parse: func(c *Ctx, text string) ([]string, error) {
				switch text {
				case e.t(c.User, "word.yes"):
					return []string{"yes"}, nil
				case e.t(c.User, "word.no"):
					return []string{"no"}, nil
				}
				return parseChoice(clearOptions)(c, text)
			},
		}},
		Finish: e.finishClearMemory,
	})
}

func (e *Engine) finishClearMemory(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	if c.Session.Value("confirm") != "yes" {
		return reply(models.OutMessage{Text: e.t(u, "memory.kept"), Keyboard: NextKeyboard(), Replace: true}), nil
	}
	n, err := e.deps.Store.DeleteMemoriesSince(ctx, u.ID, e.deps.Clock.Now().Add(-MemoryRetention))
	if err != nil {
		return Response{}, err
	}
	return reply(models.OutMessage{Text: e.tf(u, "memory.cleared", n), Keyboard: NextKeyboard(), Replace: true}), nil
}
