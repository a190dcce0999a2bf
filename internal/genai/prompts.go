package genai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

// Purpose scopes a generation for duplicate detection and logging.
type Purpose string

const (
	PurposeProfile Purpose = "profile"
	PurposeDayPlan Purpose = "day_plan"
	PurposeEvening Purpose = "evening"
	PurposeReflect Purpose = "reflect"
	PurposeWeekly  Purpose = "weekly"
)

// Persona describes a conversational role the assistant can take.
type Persona struct {
	Name        string
	Description string
	Style       string
}

var personas = map[string]Persona{
	"mentor":  {Name: "Ментор", Description: "Мудрый наставник, который дает советы и направляет", Style: "Поддерживающий, мудрый, с акцентом на личностный рост и развитие"},
	"coach":   {Name: "Коуч", Description: "Мотивирующий тренер, который помогает достигать целей", Style: "Энергичный, мотивирующий, с фокусом на результат и достижения"},
	"friend":  {Name: "Друг", Description: "Понимающий друг, который всегда поддержит", Style: "Теплый, эмпатичный, с акцентом на эмоциональную поддержку"},
	"analyst": {Name: "Аналитик", Description: "Логичный аналитик, который помогает разобраться в данных", Style: "Логичный, структурированный, с фокусом на анализ и оптимизацию"},
}

// PersonaFor returns the persona for key, defaulting to the mentor.
func PersonaFor(key string) Persona {
	if p, ok := personas[key]; ok {
		return p
	}
	return personas[models.DefaultPersona]
}

// SystemPrompt renders the system message for a persona.
func SystemPrompt(persona string) string {
	p := PersonaFor(persona)
	return fmt.Sprintf("Ты - %s. %s\n\nСтиль общения: %s\n\nОтвечай кратко, практично и по делу. Учитывай контекст пользователя и его цели.",
		p.Name, p.Description, p.Style)
}

func memoryContext(notes []models.MemoryNote, limit int) string {
	var b strings.Builder
	for i, n := range notes {
		if i >= limit {
			break
		}
		fmt.Fprintf(&b, "- %s\n", n.Content)
	}
	return b.String()
}

// DayPlanRequest builds the morning day-plan generation.
func DayPlanRequest(u models.User, p models.MorningPayload, notes []models.MemoryNote) GenerateRequest {
	prompt := fmt.Sprintf(`Помоги пользователю спланировать день.

Цель дня: %s
Топ-3 приоритета: %s
Уровень энергии (1-10): %d

Контекст из памяти:
%s
Дай краткий план дня (3-4 пункта) с учетом энергии и приоритетов.
Будь практичным и мотивирующим.`, p.Goal, strings.Join(p.Top3, ", "), p.Energy, memoryContext(notes, 3))
	return GenerateRequest{UserID: u.ID, Purpose: PurposeDayPlan, System: SystemPrompt(u.Persona), Prompt: prompt}
}

// EveningRequest builds the evening reflection generation.
func EveningRequest(u models.User, p models.EveningPayload, notes []models.MemoryNote) GenerateRequest {
	prompt := fmt.Sprintf(`Проведи вечернюю рефлексию.

Выполнено: %s
Не выполнено: %s
Что узнал: %s

Контекст:
%s
Дай краткую рефлексию (3-4 предложения) с выводами и советами на завтра.`,
		strings.Join(p.Done, ", "), strings.Join(p.NotDone, ", "), p.Learning, memoryContext(notes, 3))
	return GenerateRequest{UserID: u.ID, Purpose: PurposeEvening, System: SystemPrompt(u.Persona), Prompt: prompt}
}

// MoodSnapshot is the energy and mood used to ground a reflect answer.
type MoodSnapshot struct {
	Energy int
	Mood   int
}

// DefaultMoodSnapshot is used when no recent mood is known.
var DefaultMoodSnapshot = MoodSnapshot{Energy: 5, Mood: 5}

// ReflectRequest builds a "digital self" dialogue answer.
func ReflectRequest(u models.User, question string, profile *models.Profile, notes []models.MemoryNote, mood MoodSnapshot) GenerateRequest {
	kind := "Не определен"
	var strengths, growth []string
	if profile != nil {
		if profile.PersonalityType != "" {
			kind = profile.PersonalityType
		}
		strengths, growth = profile.Strengths, profile.GrowthAreas
	}
	prompt := fmt.Sprintf(`Ты персональный ассистент пользователя.

Профиль пользователя:
- Тип: %s
- Сильные стороны: %s
- Области роста: %s

Текущее состояние:
- Энергия: %d/10
- Настроение: %d/10

Контекст из памяти:
%s
Вопрос пользователя: %s

Ответь как персональный ассистент, учитывая профиль и контекст.
Будь поддерживающим и практичным.`,
		kind, strings.Join(strengths, ", "), strings.Join(growth, ", "), mood.Energy, mood.Mood, memoryContext(notes, 5), question)
	return GenerateRequest{UserID: u.ID, Purpose: PurposeReflect, System: SystemPrompt(u.Persona), Prompt: prompt}
}

// WeeklyRequest builds the weekly report prose.
func WeeklyRequest(u models.User, s models.WeekStats) GenerateRequest {
	prompt := fmt.Sprintf(`Создай еженедельный отчет.

Метрики:
- Записей: %d
- Средняя энергия: %.1f/10
- Фокус-сессии: %d минут
- Активность по дням: %s

Создай краткий отчет (5-6 предложений) с выводами и рекомендациями.`,
		s.EntriesCount, s.AvgEnergy, s.FocusMinutes, FormatActivity(s.DailyActivity))
	return GenerateRequest{UserID: u.ID, Purpose: PurposeWeekly, System: SystemPrompt(u.Persona), Prompt: prompt}
}

// FormatActivity renders per-day counts sorted by date.
func FormatActivity(m map[string]int) string {
	days := make([]string, 0, len(m))
	for d := range m {
		days = append(days, d)
	}
	sort.Strings(days)
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, fmt.Sprintf("%s: %d", d, m[d]))
	}
	return strings.Join(parts, ", ")
}

// QA is one intake question with the user's answer.
type QA struct {
	Question string
	Answer   string
}

// ProfileRequest builds the profile synthesis from the intake answers.
func ProfileRequest(userID int64, answers []QA) GenerateRequest {
	var b strings.Builder
	for _, a := range answers {
		fmt.Fprintf(&b, "- %s %s\n", a.Question, a.Answer)
	}
	prompt := fmt.Sprintf(`Ты - опытный психолог и коуч. Проанализируй ответы пользователя на 10 вопросов и создай детальный психологический профиль.

Ответы пользователя:
%s
Анализ должен быть конкретным, основанным на ответах и практичным.

Верни только JSON с полями:
- personality_type: тип личности (например "Амбициозный аналитик")
- detailed_analysis: развернутый анализ личности (2-3 абзаца)
- strengths: сильные стороны (массив из 4-6 строк)
- growth_areas: области для развития (массив из 3-4 строк)
- communication_style: стиль общения
- motivation_factors: факторы мотивации (массив строк)
- personal_advice: персональный совет (1-2 абзаца)`, b.String())
	return GenerateRequest{UserID: userID, Purpose: PurposeProfile, Prompt: prompt, MaxTokens: 1200}
}

// ParseProfile decodes the model's JSON profile, tolerating a fenced code block.
func ParseProfile(text string) (models.Profile, error) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	var p models.Profile
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return models.Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	if p.PersonalityType == "" {
		return models.Profile{}, fmt.Errorf("parse profile: missing personality_type")
	}
	return p, nil
}

// FallbackProfile is the deterministic profile stored when generation fails.
func FallbackProfile() models.Profile {
	return models.Profile{
		PersonalityType:    "Аналитик",
		DetailedAnalysis:   "Вы демонстрируете аналитический подход к решению задач. Ваши ответы показывают системное мышление и стремление к структурированности. Это позволяет вам эффективно планировать и достигать поставленных целей.",
		Strengths:          []string{"Целеустремленность", "Аналитическое мышление", "Системный подход", "Планирование"},
		GrowthAreas:        []string{"Эмоциональная гибкость", "Коммуникация", "Спонтанность"},
		CommunicationStyle: "Прямой и конструктивный",
		MotivationFactors:  []string{"Достижение целей", "Личностный рост", "Признание"},
		PersonalAdvice:     "Используйте свой аналитический ум для планирования, но не забывайте о важности эмоционального интеллекта. Развивайте навыки общения и учитесь быть более гибким в неожиданных ситуациях.",
	}
}
