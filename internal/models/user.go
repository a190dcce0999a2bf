package models

import (
	"log/slog"
	"time"
)

// PlanTier is the subscription level of a user.
type PlanTier string

const (
	TierFree     PlanTier = "free"
	TierPro      PlanTier = "pro"
	TierMentor   PlanTier = "mentor"
	TierUltimate PlanTier = "ultimate"
)

// Rank orders tiers so gates can require a minimum level. Unknown tiers rank as free.
func (t PlanTier) Rank() int {
	switch t {
	case TierPro:
		return 1
	case TierMentor:
		return 2
	case TierUltimate:
		return 3
	default:
		return 0
	}
}

// ParsePlanTier maps external plan names (including the "ult" shorthand) to a tier.
func ParsePlanTier(s string) (PlanTier, bool) {
	switch s {
	case "free":
		return TierFree, true
	case "pro":
		return TierPro, true
	case "mentor":
		return TierMentor, true
	case "ultimate", "ult":
		return TierUltimate, true
	}
	return "", false
}

// Defaults applied to users created on first contact.
const (
	DefaultTimezone    = "Europe/Amsterdam"
	DefaultMorningHour = 8
	DefaultEveningHour = 20
	DefaultLocale      = "ru"
	DefaultPersona     = "mentor"
)

// Personas lists the persona tags a user may choose.
var Personas = []string{"mentor", "coach", "friend", "analyst"}

// User is a bot user keyed by Telegram user id.
type User struct {
	ID                int64      `json:"id"`
	PlanTier          PlanTier   `json:"plan_tier"`
	SubscriptionUntil *time.Time `json:"subscription_until,omitempty"`
	TrialUntil        *time.Time `json:"trial_until,omitempty"`
	Timezone          string     `json:"tz"`
	MorningHour       int        `json:"morning_hour"`
	EveningHour       int        `json:"evening_hour"`
	Locale            string     `json:"language"`
	Persona           string     `json:"persona"`
	RefCode           string     `json:"ref_code,omitempty"`
	RefCount          int        `json:"ref_count"`
	CreatedAt         time.Time  `json:"created_at"`
}

// NewUser returns a user with default settings and a trial of the given length.
func NewUser(id int64, now time.Time, trial time.Duration) User {
	u := User{
		ID:          id,
		PlanTier:    TierFree,
		Timezone:    DefaultTimezone,
		MorningHour: DefaultMorningHour,
		EveningHour: DefaultEveningHour,
		Locale:      DefaultLocale,
		Persona:     DefaultPersona,
		CreatedAt:   now,
	}
	if trial > 0 {
		until := now.Add(trial)
		u.TrialUntil = &until
	}
	return u
}

// TrialActive reports whether the trial window is open at now.
func (u User) TrialActive(now time.Time) bool {
	return u.TrialUntil != nil && now.Before(*u.TrialUntil)
}

// SubscriptionActive reports whether a paid subscription is in force at now.
func (u User) SubscriptionActive(now time.Time) bool {
	return u.PlanTier != TierFree && u.SubscriptionUntil != nil && now.Before(*u.SubscriptionUntil)
}

// Location resolves the user's timezone, falling back to the default zone and then UTC.
func (u User) Location() *time.Location {
	if loc, err := time.LoadLocation(u.Timezone); err == nil {
		return loc
	}
	slog.Warn("User.Location: invalid timezone, using default", "userID", u.ID, "tz", u.Timezone)
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// LocalDate returns the calendar date (YYYY-MM-DD) of t in the user's timezone.
func (u User) LocalDate(t time.Time) string {
	return t.In(u.Location()).Format(DateLayout)
}

// StartOfLocalDay returns midnight of t's local day in the user's timezone.
func (u User) StartOfLocalDay(t time.Time) time.Time {
	lt := t.In(u.Location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, lt.Location())
}

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"
