package models

import (
	"encoding/json"
	"time"
)

// EntryType distinguishes morning and evening journal entries.
type EntryType string

const (
	EntryMorning EntryType = "morning"
	EntryEvening EntryType = "evening"
)

// Entry is the immutable record of a completed Morning or Evening flow.
type Entry struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Date      string          `json:"date"`
	Type      EntryType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// MorningPayload is the structured content of a morning entry.
type MorningPayload struct {
	Goal   string   `json:"goal"`
	Top3   []string `json:"top3"`
	Energy int      `json:"energy"`
}

// EveningPayload is the structured content of an evening entry.
type EveningPayload struct {
	Done     []string `json:"done"`
	NotDone  []string `json:"not_done"`
	Learning string   `json:"learning"`
}

// Habit is a tracked habit with a daily streak.
type Habit struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Streak   int    `json:"streak"`
	LastTick string `json:"last_tick"`
}

// Abstinence tracks how long a user has kept away from something.
type Abstinence struct {
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
}

// DaysSince returns whole days between the start date and today (both YYYY-MM-DD).
func (a Abstinence) DaysSince(today string) int {
	start, err := time.Parse(DateLayout, a.StartDate)
	if err != nil {
		return 0
	}
	end, err := time.Parse(DateLayout, today)
	if err != nil {
		return 0
	}
	d := int(end.Sub(start).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// MemoryKind tags a memory note by the flow that produced it.
type MemoryKind string

const (
	MemoryMorning MemoryKind = "morning"
	MemoryEvening MemoryKind = "evening"
	MemoryReflect MemoryKind = "reflect"
	MemoryProfile MemoryKind = "profile"
)

// MemoryNote is a short persisted snippet used as LLM context.
type MemoryNote struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Kind      MemoryKind `json:"kind"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"ts"`
}

// MoodRecord is one mood check-in.
type MoodRecord struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Date      string    `json:"date"`
	Energy    int       `json:"energy"`
	Mood      int       `json:"mood"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the psychological profile synthesized from the intake questionnaire.
type Profile struct {
	PersonalityType    string            `json:"personality_type"`
	DetailedAnalysis   string            `json:"detailed_analysis"`
	Strengths          []string          `json:"strengths"`
	GrowthAreas        []string          `json:"growth_areas"`
	CommunicationStyle string            `json:"communication_style"`
	MotivationFactors  []string          `json:"motivation_factors"`
	PersonalAdvice     string            `json:"personal_advice"`
	Answers            map[string]string `json:"answers,omitempty"`
}

// Payment is a processed billing event.
type Payment struct {
	ExternalID string    `json:"external_id"`
	UserID     int64     `json:"user_id"`
	PlanTier   PlanTier  `json:"plan_tier"`
	Period     string    `json:"period"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// DayStats summarizes one local day for a user.
type DayStats struct {
	Date         string `json:"date"`
	HasMorning   bool   `json:"has_morning"`
	HasEvening   bool   `json:"has_evening"`
	MoodCount    int    `json:"mood_count"`
	LastEnergy   int    `json:"last_energy"`
	LastMood     int    `json:"last_mood"`
	FocusMinutes int    `json:"focus_minutes"`
	HabitsTicked int    `json:"habits_ticked"`
}

// WeekStats summarizes the last seven local days for a user.
type WeekStats struct {
	EntriesCount  int            `json:"entries_count"`
	AvgEnergy     float64        `json:"avg_energy"`
	FocusMinutes  int            `json:"focus_minutes"`
	DailyActivity map[string]int `json:"daily_activity"`
}

// ReminderKind is the job kind of a scheduled reminder.
type ReminderKind string

const (
	ReminderMorning ReminderKind = "reminder.morning"
	ReminderEvening ReminderKind = "reminder.evening"
	ReminderWeekly  ReminderKind = "reminder.weekly"
)
