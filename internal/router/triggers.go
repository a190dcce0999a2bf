package router

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/DailyMentor/internal/flow"
	"github.com/BTreeMap/DailyMentor/internal/gate"
	"github.com/BTreeMap/DailyMentor/internal/messaging"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/util"
)

// Hub callbacks.
const (
	HabitsAdd        = "habits:add"
	HabitsTick       = "habits:tick"
	HabitsRename     = "habits:rename"
	HabitsDelete     = "habits:delete"
	AbstinenceAdd    = "abst:add"
	AbstinenceDelete = "abst:delete"
	SettingsTimezone = "settings:tz"
	SettingsMorning  = "settings:morning"
	SettingsEvening  = "settings:evening"
	SettingsLanguage = "settings:lang"
	SettingsPersona  = "settings:persona"
	SettingsClear    = "settings:clear"
	StartMorning     = "start:morning"
	StartEvening     = "start:evening"
)

func (r *Router) registerTriggers() {
	startFlow := func(name models.FlowName) action {
		return func(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
			return r.startFlow(ctx, u, name)
		}
	}
	focusSetup := r.gatedFocus()
	reflect := r.gated(gate.FeatureReflect, flow.Reflect)
	morning := startFlow(flow.Morning)
	evening := startFlow(flow.Evening)
	mood := startFlow(flow.Mood)

	r.triggers = map[string]action{
		"/start":      r.start,
		"/menu":       r.menu,
		"/cancel":     r.cancel,
		"/profile":    startFlow(flow.Profile),
		"/morning":    morning,
		"/evening":    evening,
		"/mood":       mood,
		"/focus":      focusSetup,
		"/reflect":    reflect,
		"/habits":     r.habitsHub,
		"/abstinence": r.abstinenceHub,
		"/settings":   r.settingsHub,
		"/weekly":     r.weekly,
		"/stats":      r.dayStats,
		"/billing":    r.billing,

		messaging.MenuMyDay:      r.myDay,
		messaging.MenuFocus:      focusSetup,
		messaging.MenuHabits:     r.habitsHub,
		messaging.MenuMood:       mood,
		messaging.MenuReflect:    reflect,
		messaging.MenuWeekly:     r.weekly,
		messaging.MenuAbstinence: r.abstinenceHub,
		messaging.MenuSettings:   r.settingsHub,
		messaging.MenuBilling:    r.billing,

		flow.NavMenu:     r.menu,
		flow.NavStats:    r.dayStats,
		flow.FocusOpen:   focusSetup,
		flow.ReflectSave: r.saveInsight,
		StartMorning:     morning,
		StartEvening:     evening,

		HabitsAdd:        r.gated(gate.FeatureHabitAdd, flow.HabitAdd),
		HabitsTick:       startFlow(flow.HabitTick),
		HabitsRename:     startFlow(flow.HabitRename),
		HabitsDelete:     startFlow(flow.HabitDelete),
		AbstinenceAdd:    startFlow(flow.AbstinenceAdd),
		AbstinenceDelete: startFlow(flow.AbstinenceDelete),
		SettingsTimezone: startFlow(flow.SettingsTimezone),
		SettingsMorning:  startFlow(flow.SettingsMorning),
		SettingsEvening:  startFlow(flow.SettingsEvening),
		SettingsLanguage: startFlow(flow.SettingsLanguage),
		SettingsPersona:  startFlow(flow.SettingsPersona),
		SettingsClear:    startFlow(flow.SettingsClear),
	}

	// Loose words only match when no flow is waiting for free text.
	r.aliases = map[string]action{
		"меню":       r.menu,
		"menu":       r.menu,
		"старт":      r.start,
		"start":      r.start,
		"отмена":     r.cancel,
		"cancel":     r.cancel,
		"настроение": mood,
		"фокус":      focusSetup,
		"привычки":   r.habitsHub,
		"статистика": r.dayStats,
		"stats":      r.dayStats,
	}
}

// start creates the user with a trial on first contact, then runs the profile intake
// unless a profile exists.
func (r *Router) start(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	existing, err := r.deps.Store.GetUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		u = models.NewUser(u.ID, r.deps.Clock.Now(), r.opts.Trial)
		u.RefCode = util.GenerateRefCode()
		if err := r.deps.Store.UpsertUser(ctx, u); err != nil {
			return nil, err
		}
		slog.Info("Router.start: user created", "userID", u.ID, "trialUntil", u.TrialUntil)
	}

	profile, err := r.deps.Store.GetProfile(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return r.menu(ctx, u, messaging.InboundEvent{})
	}
	msgs, err := r.startFlow(ctx, u, flow.Profile)
	if err != nil {
		return nil, err
	}
	intro := []models.OutMessage{messaging.Menu(r.t(u, "welcome")), models.Text(r.t(u, "profile.start"))}
	return append(intro, msgs...), nil
}

// menu shows the main menu and closes any open dialogue.
func (r *Router) menu(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	if err := r.deps.Sessions.EndFlow(ctx, u.ID); err != nil {
		return nil, err
	}
	return []models.OutMessage{messaging.Menu(r.t(u, "menu.title"))}, nil
}

func (r *Router) cancel(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	resp, err := r.deps.Flows.Cancel(ctx, u)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// myDay starts the morning check-in, or the evening one once the morning is logged.
func (r *Router) myDay(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	today := u.LocalDate(r.deps.Clock.Now())
	hasMorning, err := r.deps.Store.TodayHas(ctx, u.ID, models.EntryMorning, today)
	if err != nil {
		return nil, err
	}
	if !hasMorning {
		return r.startFlow(ctx, u, flow.Morning)
	}
	msgs, err := r.startFlow(ctx, u, flow.Evening)
	if err != nil {
		return nil, err
	}
	return append([]models.OutMessage{models.Text(r.t(u, "morning.already"))}, msgs...), nil
}

// gatedFocus checks the focus quota and refuses while a timer is live.
func (r *Router) gatedFocus() action {
	setup := r.gated(gate.FeatureFocusStart, flow.FocusSetup)
	return func(ctx context.Context, u models.User, ev messaging.InboundEvent) ([]models.OutMessage, error) {
		live, err := r.deps.Sessions.Focus(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if live != nil {
			return r.text(u, "focus.already_active"), nil
		}
		return setup(ctx, u, ev)
	}
}

func (r *Router) saveInsight(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
	resp, err := r.deps.Flows.SaveInsight(ctx, u)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}
