package flow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/DailyMentor/internal/focus"
	"github.com/BTreeMap/DailyMentor/internal/gate"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

// Focus duration bounds in minutes.
const (
	MinFocusMinutes = 1
	MaxFocusMinutes = 180
)

var focusDurations = []Option{{Label: "🍅 25 минут", Value: "25"}, {Label: "🔥 45 минут", Value: "45"}}

func (e *Engine) habitOptions(ctx context.Context, c *Ctx) ([]Option, error) {
	habits, err := e.deps.Store.ListHabits(ctx, c.User.ID)
	if err != nil {
		return nil, err
	}
	opts := make([]Option, len(habits))
	for i, h := range habits {
		opts[i] = Option{Label: "🔥 " + h.Name, Value: h.Name}
	}
	return opts, nil
}

func (e *Engine) abstinenceOptions(ctx context.Context, c *Ctx) ([]Option, error) {
	items, err := e.deps.Store.ListAbstinence(ctx, c.User.ID)
	if err != nil {
		return nil, err
	}
	opts := make([]Option, len(items))
	for i, a := range items {
		opts[i] = Option{Label: "🚫 " + a.Name, Value: a.Name}
	}
	return opts, nil
}

// requireOptions answers with emptyKey instead of starting a selection flow with nothing to pick.
func (e *Engine) requireOptions(list func(context.Context, *Ctx) ([]Option, error), emptyKey string) func(context.Context, *Ctx) (*Response, error) {
	return func(ctx context.Context, c *Ctx) (*Response, error) {
		opts, err := list(ctx, c)
		if err != nil {
			return nil, err
		}
		if len(opts) == 0 {
			r := reply(models.Text(e.t(c.User, emptyKey)))
			return &r, nil
		}
		return nil, nil
	}
}

func (e *Engine) registerTrackingFlows() {
	e.Register(&Definition{
		Name:   HabitAdd,
		Steps:  []Step{{ID: "name", Prompt: prompt("➕ Введи название новой привычки:"), Parse: parseName}},
		Finish: e.finishHabitAdd,
	})
	e.Register(&Definition{
		Name:     HabitTick,
		Steps:    []Step{{ID: "name", Prompt: prompt("✅ Какую привычку отметить?"), Options: e.habitOptions, Choose: true}},
		Precheck: e.requireOptions(e.habitOptions, "habits.empty"),
		Finish:   e.finishHabitTick,
	})
	e.Register(&Definition{
		Name: HabitRename,
		Steps: []Step{
			{ID: "name", Prompt: prompt("✏️ Какую привычку переименовать?"), Options: e.habitOptions, Choose: true},
			{ID: "new_name", Prompt: func(c *Ctx) string { return "✏️ Новое название для «" + c.Session.Value("name") + "»:" }, Parse: parseName},
		},
		Precheck: e.requireOptions(e.habitOptions, "habits.empty"),
		Finish:   e.finishHabitRename,
	})
	e.Register(&Definition{
		Name:     HabitDelete,
		Steps:    []Step{{ID: "name", Prompt: prompt("🗑️ Какую привычку удалить?"), Options: e.habitOptions, Choose: true}},
		Precheck: e.requireOptions(e.habitOptions, "habits.empty"),
		Finish:   e.finishHabitDelete,
	})

	e.Register(&Definition{
		Name:   AbstinenceAdd,
		Steps:  []Step{{ID: "name", Prompt: prompt("🚫 От чего воздерживаешься? Например: сахар, соцсети."), Parse: parseName}},
		Finish: e.finishAbstinenceAdd,
	})
	e.Register(&Definition{
		Name:     AbstinenceDelete,
		Steps:    []Step{{ID: "name", Prompt: prompt("🗑️ Какой трекер удалить?"), Options: e.abstinenceOptions, Choose: true}},
		Precheck: e.requireOptions(e.abstinenceOptions, "abstinence.empty"),
		Finish:   e.finishAbstinenceDelete,
	})

	e.Register(&Definition{
		Name: FocusSetup,
		Steps: []Step{
			{
				ID:      "minutes",
				Prompt:  prompt("🎯 Выбери длительность фокус-сессии или напиши число минут (1-180):"),
				Options: staticOptions(focusDurations...),
				PerRow:  2,
				Parse:   parseRange(MinFocusMinutes, MaxFocusMinutes, "error.invalid_input"),
			},
			{ID: "task", Prompt: prompt("🎯 Что будешь делать во время фокус-сессии?")},
		},
		Finish: e.finishFocusSetup,
	})
}

func (e *Engine) finishHabitAdd(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	name := c.Session.Value("name")
	habits, err := e.deps.Store.ListHabits(ctx, u.ID)
	if err != nil {
		return Response{}, err
	}
	exists := false
	for _, h := range habits {
		if h.Name == name {
			exists = true
			break
		}
	}
	if !exists && e.deps.Gate != nil {
		d, err := e.deps.Gate.Check(ctx, u, gate.FeatureHabitAdd)
		if err != nil {
			return Response{}, err
		}
		if !d.Allowed {
			slog.Debug("Engine.finishHabitAdd: quota reached at finish", "userID", u.ID)
			return reply(models.Text(e.t(u, d.TextKey))), nil
		}
	}
	streak, err := e.deps.Store.TickHabit(ctx, u.ID, name, u.LocalDate(e.deps.Clock.Now()))
	if err != nil {
		return Response{}, err
	}
	return reply(models.OutMessage{Text: e.tf(u, "habit.ticked", name, streak), Keyboard: NextKeyboard()}), nil
}

func (e *Engine) finishHabitTick(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	name := c.Session.Value("name")
	streak, err := e.deps.Store.TickHabit(ctx, u.ID, name, u.LocalDate(e.deps.Clock.Now()))
	if err != nil {
		return Response{}, err
	}
	return reply(models.OutMessage{Text: e.tf(u, "habit.ticked", name, streak), Keyboard: NextKeyboard(), Replace: true}), nil
}

func (e *Engine) finishHabitRename(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	newName := c.Session.Value("new_name")
	err := e.deps.Store.RenameHabit(ctx, u.ID, c.Session.Value("name"), newName)
	if errors.Is(err, store.ErrNotFound) {
		return reply(models.Text(e.t(u, "error.not_found"))), nil
	}
	if err != nil {
		return Response{}, err
	}
	return reply(models.Text(e.tf(u, "habit.renamed", newName))), nil
}

func (e *Engine) finishHabitDelete(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	name := c.Session.Value("name")
	err := e.deps.Store.DeleteHabit(ctx, u.ID, name)
	if errors.Is(err, store.ErrNotFound) {
		return reply(models.Text(e.t(u, "error.not_found"))), nil
	}
	if err != nil {
		return Response{}, err
	}
	return reply(models.OutMessage{Text: e.tf(u, "habit.deleted", name), Replace: true}), nil
}

func (e *Engine) finishAbstinenceAdd(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	name := c.Session.Value("name")
	if err := e.deps.Store.AddAbstinence(ctx, u.ID, name, u.LocalDate(e.deps.Clock.Now())); err != nil {
		return Response{}, err
	}
	return reply(models.Text(e.tf(u, "abstinence.added", name))), nil
}

func (e *Engine) finishAbstinenceDelete(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	name := c.Session.Value("name")
	err := e.deps.Store.DeleteAbstinence(ctx, u.ID, name)
	if errors.Is(err, store.ErrNotFound) {
		return reply(models.Text(e.t(u, "error.not_found"))), nil
	}
	if err != nil {
		return Response{}, err
	}
	return reply(models.OutMessage{Text: e.tf(u, "abstinence.deleted", name), Replace: true}), nil
}

func (e *Engine) finishFocusSetup(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	minutes, _ := strconv.Atoi(c.Session.Value("minutes"))
	if e.deps.Focus == nil {
		return Response{}, errors.New("focus engine not configured")
	}
	if err := e.deps.Focus.Start(ctx, u, minutes, c.Session.Value("task")); err != nil {
		if errors.Is(err, focus.ErrTimerAlreadyActive) {
			return reply(models.Text(e.t(u, "focus.already_active"))), nil
		}
		return Response{}, err
	}
	return Response{}, nil
}
