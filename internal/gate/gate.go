// Package gate decides whether a user may use a plan-restricted feature.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/models"
)

// Feature is a gated capability.
type Feature string

const (
	// FeatureReflect requires an active trial or a paid plan of at least pro.
	FeatureReflect Feature = "reflect"
	// FeatureHabitAdd is limited to FreeHabitLimit habits on the free plan.
	FeatureHabitAdd Feature = "habit_add"
	// FeatureFocusStart is limited to FreeFocusPerDay sessions per local day on the free plan.
	FeatureFocusStart Feature = "focus_start"
)

// Free plan quotas.
const (
	FreeHabitLimit  = 2
	FreeFocusPerDay = 1
)

// Reason explains a decision.
type Reason string

const (
	ReasonTrial        Reason = "trial"
	ReasonSubscription Reason = "subscription"
	ReasonWithinQuota  Reason = "within_quota"
	ReasonPaywall      Reason = "paywall"
	ReasonLimit        Reason = "limit"
)

// Decision is the outcome of a gate check. TextKey names the catalog message for denials.
type Decision struct {
	Allowed bool
	Reason  Reason
	TextKey string
}

// Counters reads the usage figures quotas are measured against.
type Counters interface {
	CountHabits(ctx context.Context, userID int64) (int, error)
	CountPomodorosSince(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Gate evaluates feature access. It never writes.
type Gate struct {
	counters Counters
	clock    clock.Clock
}

// New creates a Gate.
func New(counters Counters, c clock.Clock) *Gate {
	if c == nil {
		c = clock.System
	}
	return &Gate{counters: counters, clock: c}
}

// Check evaluates f for u in order: trial, subscription of sufficient tier, then quota.
func (g *Gate) Check(ctx context.Context, u models.User, f Feature) (Decision, error) {
	now := g.clock.Now()
	if u.TrialActive(now) {
		return Decision{Allowed: true, Reason: ReasonTrial}, nil
	}
	if u.SubscriptionActive(now) && u.PlanTier.Rank() >= models.TierPro.Rank() {
		return Decision{Allowed: true, Reason: ReasonSubscription}, nil
	}

	switch f {
	case FeatureReflect:
		slog.Debug("Gate.Check: paywall", "userID", u.ID, "feature", f)
		return Decision{Reason: ReasonPaywall, TextKey: "paywall"}, nil

	case FeatureHabitAdd:
		n, err := g.counters.CountHabits(ctx, u.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("gate %s: %w", f, err)
		}
		if n >= FreeHabitLimit {
			slog.Debug("Gate.Check: habit limit reached", "userID", u.ID, "habits", n)
			return Decision{Reason: ReasonLimit, TextKey: "limit.habits"}, nil
		}
		return Decision{Allowed: true, Reason: ReasonWithinQuota}, nil

	case FeatureFocusStart:
		n, err := g.counters.CountPomodorosSince(ctx, u.ID, u.StartOfLocalDay(now))
		if err != nil {
			return Decision{}, fmt.Errorf("gate %s: %w", f, err)
		}
		if n >= FreeFocusPerDay {
			slog.Debug("Gate.Check: focus limit reached", "userID", u.ID, "sessions", n)
			return Decision{Reason: ReasonLimit, TextKey: "limit.focus"}, nil
		}
		return Decision{Allowed: true, Reason: ReasonWithinQuota}, nil
	}
	return Decision{Allowed: true, Reason: ReasonWithinQuota}, nil
}
