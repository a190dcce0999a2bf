package messaging

import (
	"strconv"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

// Main menu labels. Pressing one sends the label as text.
const (
	MenuMyDay      = "📅 Мой день"
	MenuFocus      = "🎯 Фокус-сессия"
	MenuHabits     = "🔥 Привычки"
	MenuMood       = "😊 Настроение"
	MenuReflect    = "🧩 Цифровое Я"
	MenuWeekly     = "📊 Отчёт недели"
	MenuAbstinence = "🚫 Воздержание"
	MenuSettings   = "⚙️ Настройки"
	MenuBilling    = "💳 Подписка"
)

// MainMenuRows is the persistent reply keyboard layout.
var MainMenuRows = [][]string{
	{MenuMyDay, MenuFocus},
	{MenuHabits, MenuMood},
	{MenuReflect, MenuWeekly},
	{MenuAbstinence, MenuSettings},
	{MenuBilling},
}

// IsMenuLabel reports whether text is one of the main menu labels.
func IsMenuLabel(text string) bool {
	for _, row := range MainMenuRows {
		for _, l := range row {
			if l == text {
				return true
			}
		}
	}
	return false
}

// Menu returns a message that attaches the main menu.
func Menu(text string) models.OutMessage {
	return models.OutMessage{Text: text, MainMenu: true}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
