package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/focus"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

func TestMorningFlowPersistsOnce(t *testing.T) {
	for _, tc := range []struct {
		name    string
		llmErr  error
		wantLLM bool
	}{
		{name: "llm ok", wantLLM: true},
		{name: "llm down", llmErr: errLLMDown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.llm.err = tc.llmErr
			u := env.user(t, 1)
			ctx := context.Background()

			first := env.start(t, u, Morning)
			if len(first.Messages) != 1 || len(first.Messages[0].Keyboard) == 0 {
				t.Fatalf("goal prompt has no options: %+v", first)
			}
			env.submit(t, u, "Ship the release")
			env.submit(t, u, "review, deploy, write notes")
			resp := env.submit(t, u, "7")
			if !resp.Finished {
				t.Fatal("flow did not finish")
			}

			entries, _ := env.store.ListEntriesSince(ctx, u.ID, "")
			if len(entries) != 1 || entries[0].Type != models.EntryMorning {
				t.Fatalf("entries = %+v, want one morning entry", entries)
			}
			notes, _ := env.store.RecentMemories(ctx, u.ID, 10)
			if len(notes) != 1 || !strings.Contains(notes[0].Content, "Ship the release") {
				t.Fatalf("memories = %+v", notes)
			}
			if !strings.Contains(notes[0].Content, "review, deploy, write notes") {
				t.Errorf("memory misses priorities: %q", notes[0].Content)
			}

			all := strings.Join(respTexts(resp), "\n")
			fallback := env.engine.deps.Texts.Get(u.Locale, "llm.fallback")
			if tc.wantLLM && !strings.Contains(all, "generated") {
				t.Errorf("plan not in reply: %q", all)
			}
			if !tc.wantLLM && !strings.Contains(all, fallback) {
				t.Errorf("fallback not in reply: %q", all)
			}

			if s, _ := env.engine.Active(ctx, u.ID); s != nil {
				t.Errorf("session not cleared: %+v", s)
			}
		})
	}
}

func TestMoodTip(t *testing.T) {
	cases := []struct {
		energy, mood int
		want         string
	}{
		{3, 3, "tip.rest"},
		{9, 2, "tip.rest"},
		{9, 9, "tip.push"},
		{8, 8, "tip.push"},
		{6, 6, "tip.neutral"},
		{9, 7, "tip.neutral"},
	}
	for _, c := range cases {
		if got := MoodTip(c.energy, c.mood); got != c.want {
			t.Errorf("MoodTip(%d, %d) = %s, want %s", c.energy, c.mood, got, c.want)
		}
	}
}

func TestMoodFlowSkipsNoteAndCreatesUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := models.NewUser(5, env.clock.Now(), 0)

	env.start(t, u, Mood)
	env.submit(t, u, "3")
	env.submit(t, u, "3")
	resp, err := env.engine.Submit(ctx, u, Input{Text: OptionData(Mood, "note", 0), Callback: true})
	if err != nil {
		t.Fatal(err)
	}
	rest := env.engine.deps.Texts.Get(u.Locale, "tip.rest")
	if !strings.Contains(strings.Join(respTexts(resp), "\n"), rest) {
		t.Errorf("reply misses rest tip: %v", respTexts(resp))
	}
	got, _ := env.store.GetUser(ctx, u.ID)
	if got == nil {
		t.Fatal("user not created")
	}
	if !got.TrialActive(env.clock.Now()) || !got.TrialUntil.Equal(env.clock.Now().Add(testTrial)) {
		t.Errorf("created user trial = %v, want %v", got.TrialUntil, env.clock.Now().Add(testTrial))
	}
	moods, _ := env.store.ListMoodsSince(ctx, u.ID, "")
	if len(moods) != 1 || moods[0].Note != "" || moods[0].Energy != 3 {
		t.Errorf("moods = %+v", moods)
	}
}

func TestValidationRepromptLeavesSessionUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	env.start(t, u, Morning)
	env.submit(t, u, "goal")
	env.submit(t, u, "a, b")

	before, _ := env.engine.Active(ctx, u.ID)
	for _, in := range []string{"11", "abc", "  ", OptionData(Morning, "goal", 0)} {
		resp := env.submit(t, u, in)
		if !resp.Reprompt {
			t.Errorf("input %q was not rejected", in)
		}
	}
	after, _ := env.engine.Active(ctx, u.ID)
	if after.Version != before.Version || after.Step != "energy" {
		t.Errorf("session changed: before %+v, after %+v", before, after)
	}
}

func TestOptionPressRecordsValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	env.start(t, u, Morning)

	resp, err := env.engine.Submit(ctx, u, Input{Text: OptionData(Morning, "goal", 0), Callback: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 1 || !resp.Messages[0].Replace {
		t.Errorf("callback answer should replace the prompt: %+v", resp)
	}
	s, _ := env.engine.Active(ctx, u.ID)
	if s.Value("goal") != "Завершить важный проект" {
		t.Errorf("goal = %q", s.Value("goal"))
	}
}

func TestStartSupersedesActiveFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	env.start(t, u, Morning)
	env.submit(t, u, "goal")
	env.start(t, u, Evening)

	s, _ := env.engine.Active(ctx, u.ID)
	if s.Flow != Evening || s.Step != "done" || len(s.Answers) != 0 {
		t.Errorf("session = %+v, want fresh evening flow", s)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	env.start(t, u, Evening)
	for i := 0; i < 2; i++ {
		resp, err := env.engine.Cancel(ctx, u)
		if err != nil {
			t.Fatalf("Cancel #%d: %v", i, err)
		}
		if len(resp.Messages) != 1 || !resp.Messages[0].MainMenu {
			t.Errorf("Cancel #%d reply = %+v", i, resp)
		}
	}
	if _, err := env.engine.Submit(ctx, u, Input{Text: "x"}); !errors.Is(err, ErrNoActiveFlow) {
		t.Errorf("Submit after cancel = %v, want ErrNoActiveFlow", err)
	}
}

func TestHabitAddRespectsFreeQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	for _, name := range []string{"run", "read"} {
		if _, err := env.store.TickHabit(ctx, u.ID, name, "2025-03-10"); err != nil {
			t.Fatal(err)
		}
	}

	env.start(t, u, HabitAdd)
	resp := env.submit(t, u, "meditate")
	want := env.engine.deps.Texts.Get(u.Locale, "limit.habits")
	if len(resp.Messages) != 1 || resp.Messages[0].Text != want {
		t.Errorf("reply = %v, want quota message", respTexts(resp))
	}
	if n, _ := env.store.CountHabits(ctx, u.ID); n != 2 {
		t.Errorf("CountHabits = %d, want 2", n)
	}

	// Ticking an existing habit by name is not a new habit.
	env.start(t, u, HabitAdd)
	env.submit(t, u, "run")
	if n, _ := env.store.CountHabits(ctx, u.ID); n != 2 {
		t.Errorf("CountHabits after re-adding = %d, want 2", n)
	}

	until := env.clock.Now().Add(72 * time.Hour)
	u.TrialUntil = &until
	env.start(t, u, HabitAdd)
	env.submit(t, u, "meditate")
	if n, _ := env.store.CountHabits(ctx, u.ID); n != 3 {
		t.Errorf("CountHabits during trial = %d, want 3", n)
	}
}

func TestSelectionFlowWithNothingToSelect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	resp := env.start(t, u, HabitDelete)
	if len(resp.Messages) != 1 || resp.Messages[0].Text != env.engine.deps.Texts.Get(u.Locale, "habits.empty") {
		t.Errorf("reply = %v", respTexts(resp))
	}
	if s, _ := env.engine.Active(ctx, u.ID); s != nil {
		t.Error("empty selection flow left a session")
	}
}

func TestReflectKeepsDialogueAndSavesInsight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	env.llm.text = "look at your mornings"

	env.start(t, u, Reflect)
	env.submit(t, u, "Прокрастинация")
	resp := env.submit(t, u, "why do I delay?")
	if !resp.Finished || !strings.Contains(resp.Messages[0].Text, "look at your mornings") {
		t.Fatalf("reflect reply = %+v", resp)
	}
	s, _ := env.engine.Active(ctx, u.ID)
	if s == nil || s.Flow != Reflect || s.Step != "question" {
		t.Fatalf("reflect session = %+v, want it kept on question", s)
	}

	if _, err := env.engine.SaveInsight(ctx, u); err != nil {
		t.Fatal(err)
	}
	notes, _ := env.store.RecentMemories(ctx, u.ID, 5)
	if len(notes) != 1 || notes[0].Kind != models.MemoryReflect || notes[0].Content != "look at your mornings" {
		t.Errorf("memories = %+v", notes)
	}

	resp, _ = env.engine.SaveInsight(ctx, u)
	if resp.Messages[0].Text != env.engine.deps.Texts.Get(u.Locale, "reflect.nothing") {
		t.Errorf("second save = %v", respTexts(resp))
	}
}

func TestFocusSetupStartsTimer(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, 1)
	env.start(t, u, FocusSetup)
	env.submit(t, u, "181")
	env.submit(t, u, "45")
	env.submit(t, u, "write tests")
	if env.focus.minutes != 45 || env.focus.task != "write tests" {
		t.Errorf("focus started with %d %q", env.focus.minutes, env.focus.task)
	}

	env.focus.err = focus.ErrTimerAlreadyActive
	env.start(t, u, FocusSetup)
	env.submit(t, u, "25")
	resp := env.submit(t, u, "again")
	if len(resp.Messages) != 1 || resp.Messages[0].Text != env.engine.deps.Texts.Get(u.Locale, "focus.already_active") {
		t.Errorf("reply = %v", respTexts(resp))
	}
}

func TestSettingsTimezoneRejectsUnknownZone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	env.start(t, u, SettingsTimezone)
	if resp := env.submit(t, u, "Mars/Olympus"); !resp.Reprompt {
		t.Error("unknown zone accepted")
	}
	env.submit(t, u, "Asia/Tokyo")
	got, _ := env.store.GetUser(ctx, u.ID)
	if got.Timezone != "Asia/Tokyo" {
		t.Errorf("Timezone = %q", got.Timezone)
	}
}

func TestProfileFinishKeepsPlanPaidMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	until := env.clock.Now().Add(30 * 24 * time.Hour)
	env.llm.during = func() {
		if err := env.store.SetPlan(ctx, u.ID, models.TierPro, until); err != nil {
			t.Errorf("SetPlan: %v", err)
		}
	}

	env.start(t, u, Profile)
	for range profileQuestions {
		env.submit(t, u, "answer")
	}
	if resp := env.submit(t, u, "coach"); !resp.Finished {
		t.Fatal("profile did not finish")
	}

	got, _ := env.store.GetUser(ctx, u.ID)
	if got.Persona != "coach" {
		t.Errorf("Persona = %q, want coach", got.Persona)
	}
	if got.PlanTier != models.TierPro || got.SubscriptionUntil == nil || !got.SubscriptionUntil.Equal(until) {
		t.Errorf("plan after profile = %s until %v, want pro until %v", got.PlanTier, got.SubscriptionUntil, until)
	}
}

func TestSettingsSaveKeepsPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, 1)
	env.start(t, u, SettingsEvening)
	until := env.clock.Now().Add(365 * 24 * time.Hour)
	if err := env.store.SetPlan(ctx, u.ID, models.TierUltimate, until); err != nil {
		t.Fatal(err)
	}
	env.submit(t, u, "21")

	got, _ := env.store.GetUser(ctx, u.ID)
	if got.EveningHour != 21 || got.PlanTier != models.TierUltimate {
		t.Errorf("user = %+v, want evening 21 on ultimate", got)
	}
}

func TestMorningRetryAfterMemoryFailureKeepsOneEntry(t *testing.T) {
	env := newWrappedTestEnv(t, func(st *store.InMemoryStore) store.Store {
		return &flakyMemoryStore{InMemoryStore: st, failMemory: 1}
	})
	ctx := context.Background()
	u := env.user(t, 1)

	env.start(t, u, Morning)
	env.submit(t, u, "Ship the release")
	env.submit(t, u, "review, deploy")
	if _, err := env.engine.Submit(ctx, u, Input{Text: "7"}); err == nil {
		t.Fatal("expected finish to fail while memory writes fail")
	}
	if s, _ := env.engine.Active(ctx, u.ID); s == nil || s.Step != "energy" {
		t.Fatalf("session = %+v, want it kept on energy for a retry", s)
	}

	if resp := env.submit(t, u, "7"); !resp.Finished {
		t.Fatal("retry did not finish")
	}
	entries, _ := env.store.ListEntriesSince(ctx, u.ID, "")
	if len(entries) != 1 {
		t.Errorf("entries after retry = %d, want 1", len(entries))
	}
	notes, _ := env.store.RecentMemories(ctx, u.ID, 10)
	if len(notes) != 1 {
		t.Errorf("memories after retry = %d, want 1", len(notes))
	}
}

func TestHabitTickMatchesTypedNameWithRequestContext(t *testing.T) {
	var rec *ctxRecordingStore
	env := newWrappedTestEnv(t, func(st *store.InMemoryStore) store.Store {
		rec = &ctxRecordingStore{InMemoryStore: st}
		return rec
	})
	u := env.user(t, 1)
	if _, err := env.store.TickHabit(context.Background(), u.ID, "water", "2025-03-09"); err != nil {
		t.Fatal(err)
	}
	ctx := context.WithValue(context.Background(), ctxKey{}, "request")

	if _, err := env.engine.Start(ctx, u, HabitTick); err != nil {
		t.Fatal(err)
	}
	resp, err := env.engine.Submit(ctx, u, Input{Text: "gym"})
	if err != nil || !resp.Reprompt {
		t.Fatalf("unknown habit = %+v, %v; want reprompt", resp, err)
	}
	resp, err = env.engine.Submit(ctx, u, Input{Text: "Water"})
	if err != nil || !resp.Finished {
		t.Fatalf("typed habit = %+v, %v; want finished", resp, err)
	}

	habits, _ := env.store.ListHabits(context.Background(), u.ID)
	if len(habits) != 1 || habits[0].Streak != 2 {
		t.Errorf("habits = %+v, want water on a 2-day streak", habits)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.seen) == 0 {
		t.Fatal("habit lister never called")
	}
	for _, c := range rec.seen {
		if c.Value(ctxKey{}) != "request" {
			t.Error("habit lister called without the request context")
		}
	}
}
