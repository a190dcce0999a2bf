package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DailyMentor/internal/genai"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/util"
)

// Flow names.
const (
	Profile          models.FlowName = "profile"
	Morning          models.FlowName = "morning"
	Evening          models.FlowName = "evening"
	Mood             models.FlowName = "mood"
	Reflect          models.FlowName = "reflect"
	SettingsTimezone models.FlowName = "settings_tz"
	SettingsMorning  models.FlowName = "settings_morning"
	SettingsEvening  models.FlowName = "settings_evening"
	SettingsLanguage models.FlowName = "settings_lang"
	SettingsPersona  models.FlowName = "settings_persona"
	SettingsClear    models.FlowName = "settings_clear"
	HabitAdd         models.FlowName = "habit_add"
	HabitTick        models.FlowName = "habit_tick"
	HabitRename      models.FlowName = "habit_rename"
	HabitDelete      models.FlowName = "habit_delete"
	AbstinenceAdd    models.FlowName = "abst_add"
	AbstinenceDelete models.FlowName = "abst_delete"
	FocusSetup       models.FlowName = "focus_setup"
)

// Post-flow navigation callbacks.
const (
	NavStats  = "nav:stats"
	NavMenu   = "nav:menu"
	FocusOpen = "focus:open"
	// ReflectSave stores the last reflect answer as a memory note.
	ReflectSave = "reflect:save"
)

// NextKeyboard is the "what next" control set shown after a flow completes.
func NextKeyboard() models.Keyboard {
	return models.Column(
		models.Button{Label: "📊 Статистика дня", Data: NavStats},
		models.Button{Label: "🎯 Фокус-сессия 25 минут", Data: FocusOpen},
		models.Button{Label: "🏠 Главное меню", Data: NavMenu},
	)
}

func (e *Engine) whatNext(u models.User) models.OutMessage {
	return models.OutMessage{Text: e.t(u, "flow.what_next"), Keyboard: NextKeyboard()}
}

// generate returns generated text or the fallback apology. It never fails.
func (e *Engine) generate(ctx context.Context, u models.User, req genai.GenerateRequest) (string, bool) {
	if e.deps.LLM == nil {
		return e.t(u, "llm.fallback"), false
	}
	text, err := genai.GenerateUnique(ctx, e.deps.LLM, req)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Warn("Engine.generate: using fallback text", "userID", u.ID, "purpose", req.Purpose, "error", err)
		return e.t(u, "llm.fallback"), false
	}
	return text, true
}

type question struct {
	id      models.StepID
	text    string
	answers []string
}

var profileQuestions = []question{
	{"q1", "🌅 В какое время ты обычно просыпаешься?", []string{"06:00-07:00", "07:00-08:00", "08:00-09:00", "09:00-10:00", "10:00+"}},
	{"q2", "💪 Что тебя больше всего мотивирует?", []string{"Достижения", "Признание", "Деньги", "Развитие", "Семья"}},
	{"q3", "⭐ Назови свои 3 сильные стороны", []string{"Аналитичность", "Креативность", "Коммуникабельность", "Лидерство", "Терпение"}},
	{"q4", "🎯 Какая у тебя главная слабость?", []string{"Прокрастинация", "Перфекционизм", "Неуверенность", "Импульсивность", "Лень"}},
	{"q5", "⏰ Какую длительность фокус-сессии предпочитаешь?", []string{"15 минут", "25 минут", "45 минут", "60+ минут"}},
	{"q6", "😰 Как часто испытываешь стресс?", []string{"Редко", "Иногда", "Часто", "Постоянно"}},
	{"q7", "🗣️ Какой стиль общения тебе ближе?", []string{"Прямой", "Мягкий", "Поддерживающий", "Строгий"}},
	{"q8", "🌅 Опиши своё идеальное утро", []string{"Спорт + кофе", "Медитация", "Планирование", "Чтение"}},
	{"q9", "🌙 Опиши свой идеальный вечер", []string{"Релакс", "Общение", "Хобби", "Планирование"}},
	{"q10", "🎯 Какая у тебя цель на эту неделю?", []string{"Карьера", "Здоровье", "Отношения", "Саморазвитие"}},
}

var personaOptions = []Option{
	{Label: "🎓 Ментор", Value: "mentor"},
	{Label: "🏃 Коуч", Value: "coach"},
	{Label: "👥 Друг", Value: "friend"},
	{Label: "📊 Аналитик", Value: "analyst"},
}

const freeTextHint = "\n\nВыбери вариант или напиши свой."

func (e *Engine) registerJournalFlows() {
	profile := &Definition{Name: Profile, Finish: e.finishProfile}
	for i, q := range profileQuestions {
		text := fmt.Sprintf("📝 Профиль · %d/%d\n\n%s", i+1, len(profileQuestions), q.text)
		profile.Steps = append(profile.Steps, Step{ID: q.id, Prompt: prompt(text), Options: staticOptions(labels(q.answers...)...)})
	}
	profile.Steps = append(profile.Steps, Step{
		ID:      "persona",
		Prompt:  prompt("📝 Профиль\n\nВыбери свою персону:"),
		Options: staticOptions(personaOptions...),
		PerRow:  2,
		Parse:   parseChoice(personaOptions),
	})
	e.Register(profile)

	e.Register(&Definition{
		Name: Morning,
		Steps: []Step{
			{
				ID:      "goal",
				Prompt:  prompt("🌅 Доброе утро!\n\nКакая у тебя главная цель на сегодня?" + freeTextHint),
				Options: staticOptions(labels("Завершить важный проект", "Изучить новую тему", "Встретиться с командой", "Провести анализ данных", "Подготовить презентацию")...),
			},
			{
				ID:      "top3",
				Prompt:  prompt("🎯 Отлично! Теперь выбери топ-3 приоритета на сегодня.\n\nМожно написать свои через запятую."),
				Options: staticOptions(labels("Проверить почту", "Создать план дня", "Сделать звонки", "Обработать документы", "Подготовить отчет", "Встреча с клиентом")...),
				Parse:   parseList(3),
			},
			{
				ID:      "energy",
				Prompt:  prompt("⚡ Какой у тебя уровень энергии? (1-10)"),
				Options: staticOptions(scaleOptions()...),
				PerRow:  5,
				Parse:   parseRange(1, 10, "error.number_1_10"),
			},
		},
		Finish: e.finishMorning,
	})

	e.Register(&Definition{
		Name: Evening,
		Steps: []Step{
			{
				ID:      "done",
				Prompt:  prompt("🌙 Добрый вечер!\n\nЧто ты выполнил из запланированного?" + freeTextHint),
				Options: staticOptions(labels("Завершил важную задачу", "Изучил новую информацию", "Провел продуктивную встречу", "Решил сложную проблему", "Помог коллеге")...),
				Parse:   parseList(10),
			},
			{
				ID:      "not_done",
				Prompt:  prompt("📝 Что не удалось выполнить?" + freeTextHint),
				Options: staticOptions(labels("Не хватило времени", "Технические проблемы", "Отвлекли коллеги", "Сложность задачи", "Усталость")...),
				Parse:   parseList(10),
			},
			{
				ID:      "learning",
				Prompt:  prompt("💡 Что нового ты узнал сегодня?" + freeTextHint),
				Options: staticOptions(labels("Новый способ решения", "Работа с инструментами", "Командная работа", "Тайм-менеджмент", "Технические навыки")...),
			},
		},
		Finish: e.finishEvening,
	})

	e.Register(&Definition{
		Name: Mood,
		Steps: []Step{
			{
				ID:      "energy",
				Prompt:  prompt("😊 Настроение\n\n⚡ Какой у тебя уровень энергии?"),
				Options: staticOptions(scaleOptions()...),
				PerRow:  5,
				Parse:   parseRange(1, 10, "error.number_1_10"),
			},
			{
				ID:      "feeling",
				Prompt:  prompt("😊 Как твоё настроение?"),
				Options: staticOptions(scaleOptions()...),
				PerRow:  5,
				Parse:   parseRange(1, 10, "error.number_1_10"),
			},
			{
				ID:      "note",
				Prompt:  prompt("💭 Хочешь добавить заметку? Напиши её или пропусти."),
				Options: staticOptions(Option{Label: "⏭ Пропустить", Value: SkipValue}),
			},
		},
		Finish: e.finishMood,
	})

	e.Register(&Definition{
		Name: Reflect,
		Steps: []Step{
			{
				ID:      "topic",
				Prompt:  prompt("🧩 Цифровое Я\n\nО чём поговорим?" + freeTextHint),
				Options: staticOptions(labels("Мотивация и цели", "Прокрастинация", "Фокус и концентрация", "Стресс и усталость")...),
				Next:    func(*Ctx, []string) models.StepID { return "question" },
			},
			{
				ID: "question",
				Prompt: func(c *Ctx) string {
					return fmt.Sprintf("🧩 Тема: %s\n\nЗадай свой вопрос:", c.Session.Value("topic"))
				},
				Next: func(*Ctx, []string) models.StepID { return finish },
			},
		},
		Finish:      e.finishReflect,
		KeepSession: true,
	})
}

// SkipValue is recorded when an optional step is skipped.
const SkipValue = "/skip"

func (e *Engine) finishProfile(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	qa := make([]genai.QA, 0, len(profileQuestions))
	answers := make(map[string]string, len(profileQuestions))
	for _, q := range profileQuestions {
		a := strings.Join(c.Session.Values(q.id), ", ")
		qa = append(qa, genai.QA{Question: q.text, Answer: a})
		answers[string(q.id)] = a
	}

	profile := genai.FallbackProfile()
	if text, ok := e.generate(ctx, u, genai.ProfileRequest(u.ID, qa)); ok {
		if p, err := genai.ParseProfile(text); err == nil {
			profile = p
		} else {
			slog.Warn("Engine.finishProfile: unparseable profile, using template", "userID", u.ID, "error", err)
		}
	}
	profile.Answers = answers

	if err := e.deps.Store.SaveProfile(ctx, u.ID, profile); err != nil {
		return Response{}, err
	}
	u.Persona = c.Session.Value("persona")
	if err := e.deps.Store.SaveSettings(ctx, u); err != nil {
		return Response{}, err
	}
	if err := e.deps.Store.AddMemory(ctx, u.ID, models.MemoryProfile, "Профиль: "+profile.PersonalityType); err != nil {
		return Response{}, err
	}

	return reply(
		models.OutMessage{Text: e.tf(u, "profile.complete", profile.PersonalityType, profile.DetailedAnalysis, profile.PersonalAdvice), MainMenu: true},
		e.whatNext(u),
	), nil
}

func (e *Engine) finishMorning(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	payload := models.MorningPayload{
		Goal:   c.Session.Value("goal"),
		Top3:   c.Session.Values("top3"),
		Energy: atoi(c.Session.Value("energy")),
	}
	today := u.LocalDate(e.deps.Clock.Now())
	if err := e.deps.Store.SaveEntry(ctx, u.ID, today, models.EntryMorning, payload); err != nil {
		return Response{}, err
	}
	notes, err := e.deps.Store.RecentMemories(ctx, u.ID, 3)
	if err != nil {
		return Response{}, err
	}
	note := fmt.Sprintf("Утренний план: %s, приоритеты: %s", payload.Goal, strings.Join(payload.Top3, ", "))
	if err := e.deps.Store.AddMemory(ctx, u.ID, models.MemoryMorning, note); err != nil {
		return Response{}, err
	}

	plan, _ := e.generate(ctx, u, genai.DayPlanRequest(u, payload, notes))
	return reply(
		models.Text(e.t(u, "morning.saved")),
		models.Text(e.tf(u, "morning.plan", plan)),
		e.whatNext(u),
	), nil
}

func (e *Engine) finishEvening(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	payload := models.EveningPayload{
		Done:     c.Session.Values("done"),
		NotDone:  c.Session.Values("not_done"),
		Learning: c.Session.Value("learning"),
	}
	today := u.LocalDate(e.deps.Clock.Now())
	if err := e.deps.Store.SaveEntry(ctx, u.ID, today, models.EntryEvening, payload); err != nil {
		return Response{}, err
	}
	notes, err := e.deps.Store.RecentMemories(ctx, u.ID, 3)
	if err != nil {
		return Response{}, err
	}
	note := fmt.Sprintf("Вечерняя рефлексия: выполнено %d, не выполнено %d", len(payload.Done), len(payload.NotDone))
	if err := e.deps.Store.AddMemory(ctx, u.ID, models.MemoryEvening, note); err != nil {
		return Response{}, err
	}

	reflection, _ := e.generate(ctx, u, genai.EveningRequest(u, payload, notes))
	return reply(
		models.Text(e.t(u, "evening.saved")),
		models.Text(e.tf(u, "evening.reflection", reflection)),
		e.whatNext(u),
	), nil
}

// MoodTip returns the catalog key of the tip for a mood check-in.
func MoodTip(energy, mood int) string {
	switch {
	case energy <= 4 || mood <= 4:
		return "tip.rest"
	case energy >= 8 && mood >= 8:
		return "tip.push"
	default:
		return "tip.neutral"
	}
}

func (e *Engine) finishMood(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	now := e.deps.Clock.Now()
	existing, err := e.deps.Store.GetUser(ctx, u.ID)
	if err != nil {
		return Response{}, err
	}
	if existing == nil {
		created := models.NewUser(u.ID, now, e.deps.Trial)
		created.RefCode = util.GenerateRefCode()
		if err := e.deps.Store.UpsertUser(ctx, created); err != nil {
			return Response{}, err
		}
		slog.Info("Engine.finishMood: created missing user", "userID", u.ID, "trialUntil", created.TrialUntil)
		u = created
	}

	note := c.Session.Value("note")
	if note == SkipValue {
		note = ""
	}
	rec := models.MoodRecord{
		UserID:    u.ID,
		Date:      u.LocalDate(now),
		Energy:    atoi(c.Session.Value("energy")),
		Mood:      atoi(c.Session.Value("feeling")),
		Note:      note,
		CreatedAt: now,
	}
	if err := e.deps.Store.SaveMood(ctx, rec); err != nil {
		return Response{}, err
	}
	return reply(
		models.Text(e.t(u, "mood.saved")),
		models.OutMessage{Text: "🧘 " + e.t(u, MoodTip(rec.Energy, rec.Mood)), Keyboard: NextKeyboard()},
	), nil
}

func (e *Engine) finishReflect(ctx context.Context, c *Ctx) (Response, error) {
	u := c.User
	profile, err := e.deps.Store.GetProfile(ctx, u.ID)
	if err != nil {
		return Response{}, err
	}
	notes, err := e.deps.Store.RecentMemories(ctx, u.ID, 5)
	if err != nil {
		return Response{}, err
	}
	question := c.Session.Value("question")
	if topic := c.Session.Value("topic"); topic != "" {
		question = topic + ": " + question
	}

	answer, ok := e.generate(ctx, u, genai.ReflectRequest(u, question, profile, notes, genai.DefaultMoodSnapshot))
	if ok {
		c.Session.SetValues("answer", answer)
	}
	return reply(models.OutMessage{
		Text: e.tf(u, "reflect.answer", answer),
		Keyboard: models.Column(
			models.Button{Label: "📌 Запомнить инсайт", Data: ReflectSave},
			models.Button{Label: "↩️ В меню", Data: NavMenu},
		),
	}), nil
}

// SaveInsight stores the last reflect answer as a memory note. The dialogue stays open.
func (e *Engine) SaveInsight(ctx context.Context, u models.User) (Response, error) {
	s, err := e.deps.Sessions.Flow(ctx, u.ID)
	if err != nil {
		return Response{}, err
	}
	if s == nil || s.Flow != Reflect || s.Value("answer") == "" {
		return reply(models.Text(e.t(u, "reflect.nothing"))), nil
	}
	if err := e.deps.Store.AddMemory(ctx, u.ID, models.MemoryReflect, util.Truncate(s.Value("answer"), 500)); err != nil {
		return Response{}, err
	}
	s.SetValues("answer")
	if err := e.deps.Sessions.SaveFlow(ctx, s); err != nil {
		return Response{}, err
	}
	return reply(models.Text(e.t(u, "reflect.saved"))), nil
}
