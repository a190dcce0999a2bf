package focus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/session"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []models.OutMessage
	edits   []models.OutMessage
	editErr error
	sendErr error
	// editCtxErrs records ctx.Err() as seen by each Edit call.
	editCtxErrs []error
}

func (f *fakeSender) Send(_ context.Context, userID int64, msg models.OutMessage) (models.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.MessageRef{}, f.sendErr
	}
	f.sent = append(f.sent, msg)
	return models.MessageRef{ChatID: userID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Edit(ctx context.Context, _ models.MessageRef, msg models.OutMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editCtxErrs = append(f.editCtxErrs, ctx.Err())
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, msg)
	return nil
}

func (f *fakeSender) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1].Text
}

func (f *fakeSender) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

type fixture struct {
	engine *Engine
	store  *store.InMemoryStore
	clock  *clock.Fake
	sender *fakeSender
	user   models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	st := store.NewInMemoryStore()
	mgr := session.NewManager(st, session.WithClock(clk))
	sender := &fakeSender{}
	// Tickers never fire on their own; tests drive tickOnce directly.
	e := NewEngine(mgr, st, st, sender, WithClock(clk), WithTickInterval(time.Hour))
	t.Cleanup(func() {
		e.Close()
		mgr.Close()
	})
	u := models.NewUser(7, start, 0)
	if err := st.UpsertUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return &fixture{engine: e, store: st, clock: clk, sender: sender, user: u}
}

func (f *fixture) pomodoros(t *testing.T) []models.PomodoroRecord {
	t.Helper()
	list, err := f.store.ListPomodorosSince(context.Background(), f.user.ID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestPauseResumeStopCountsOnlyFocusedTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.Start(ctx, f.user, 25, "write report"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(f.sender.sent) != 1 || !strings.Contains(f.sender.sent[0].Text, "25:00") {
		t.Fatalf("unexpected timer message: %+v", f.sender.sent)
	}

	f.clock.Advance(5 * time.Second)
	if err := f.engine.Pause(ctx, f.user); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	s, _ := f.store.GetFocusSession(ctx, f.user.ID)
	if s.Status != models.FocusPaused || s.Remaining != 24*time.Minute+55*time.Second {
		t.Fatalf("paused session = %+v", s)
	}
	if !strings.Contains(f.sender.lastEdit(), "24:55") {
		t.Errorf("paused display = %q", f.sender.lastEdit())
	}
	if f.engine.running(f.user.ID) {
		t.Error("ticker still registered while paused")
	}

	f.clock.Advance(10 * time.Minute)
	if err := f.engine.Resume(ctx, f.user); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	s, _ = f.store.GetFocusSession(ctx, f.user.ID)
	if want := f.clock.Now().Add(24*time.Minute + 55*time.Second); !s.EndAt.Equal(want) {
		t.Errorf("EndAt = %v, want %v", s.EndAt, want)
	}
	if !f.engine.running(f.user.ID) {
		t.Error("ticker not restarted on resume")
	}

	if err := f.engine.Stop(ctx, f.user); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	list := f.pomodoros(t)
	if len(list) != 1 {
		t.Fatalf("expected 1 archived session, got %d", len(list))
	}
	if list[0].Outcome != models.OutcomeStopped || list[0].DurationSeconds != 5 {
		t.Errorf("archived = %+v, want stopped with 5s", list[0])
	}
	if s, _ := f.store.GetFocusSession(ctx, f.user.ID); s != nil {
		t.Error("live session not removed")
	}
}

func TestStartRejectsSecondSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Start(ctx, f.user, 25, "a"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Start(ctx, f.user, 25, "b"); !errors.Is(err, ErrTimerAlreadyActive) {
		t.Errorf("second Start = %v, want ErrTimerAlreadyActive", err)
	}
}

func TestTickAutoCompletesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Start(ctx, f.user, 1, "short"); err != nil {
		t.Fatal(err)
	}
	s, _ := f.store.GetFocusSession(ctx, f.user.ID)

	f.clock.Advance(61 * time.Second)
	last := ""
	if !f.engine.tickOnce(ctx, f.user.ID, s.ID, s.Version, f.user.Locale, &last) {
		t.Error("first tick past end should stop the ticker")
	}
	if !f.engine.tickOnce(ctx, f.user.ID, s.ID, s.Version, f.user.Locale, &last) {
		t.Error("tick after completion should stop the ticker")
	}

	list := f.pomodoros(t)
	if len(list) != 1 || list[0].Outcome != models.OutcomeCompleted {
		t.Fatalf("archived = %+v, want one completed record", list)
	}
	if list[0].DurationSeconds != 60 {
		t.Errorf("DurationSeconds = %d, want 60", list[0].DurationSeconds)
	}
}

func TestStaleTickIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Start(ctx, f.user, 25, "task"); err != nil {
		t.Fatal(err)
	}
	old, _ := f.store.GetFocusSession(ctx, f.user.ID)
	if err := f.engine.Pause(ctx, f.user); err != nil {
		t.Fatal(err)
	}
	edits := f.sender.editCount()

	f.clock.Advance(time.Hour)
	last := ""
	if !f.engine.tickOnce(ctx, f.user.ID, old.ID, old.Version, f.user.Locale, &last) {
		t.Error("stale tick should stop its ticker")
	}
	if f.sender.editCount() != edits {
		t.Error("stale tick edited the message")
	}
	if got := f.pomodoros(t); len(got) != 0 {
		t.Errorf("stale tick archived %d sessions", len(got))
	}
	cur, _ := f.store.GetFocusSession(ctx, f.user.ID)
	if cur == nil || cur.Status != models.FocusPaused {
		t.Errorf("session changed by stale tick: %+v", cur)
	}
}

func TestTickEditsOnlyOnChangeAndSurvivesEditErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Start(ctx, f.user, 25, "task"); err != nil {
		t.Fatal(err)
	}
	s, _ := f.store.GetFocusSession(ctx, f.user.ID)
	last := f.sender.sent[0].Text

	if f.engine.tickOnce(ctx, f.user.ID, s.ID, s.Version, f.user.Locale, &last) {
		t.Fatal("ticker stopped early")
	}
	if f.sender.editCount() != 0 {
		t.Error("edited without a display change")
	}

	f.sender.editErr = errors.New("message is not modified")
	f.clock.Advance(time.Second)
	if f.engine.tickOnce(ctx, f.user.ID, s.ID, s.Version, f.user.Locale, &last) {
		t.Fatal("edit error stopped the ticker")
	}

	f.sender.editErr = nil
	f.clock.Advance(time.Second)
	f.engine.tickOnce(ctx, f.user.ID, s.ID, s.Version, f.user.Locale, &last)
	if !strings.Contains(f.sender.lastEdit(), "24:58") {
		t.Errorf("display = %q, want 24:58", f.sender.lastEdit())
	}
}

func TestStopWithoutSessionIsNoOp(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Stop(context.Background(), f.user); err != nil {
		t.Errorf("Stop = %v", err)
	}
	if err := f.engine.Pause(context.Background(), f.user); !errors.Is(err, ErrNoActiveTimer) {
		t.Errorf("Pause = %v, want ErrNoActiveTimer", err)
	}
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	seed := func(userID int64, status models.FocusStatus, end time.Time) {
		t.Helper()
		if err := f.store.UpsertUser(ctx, models.NewUser(userID, now, 0)); err != nil {
			t.Fatal(err)
		}
		s := models.FocusSession{
			ID: fmt.Sprintf("s%d", userID), UserID: userID, Task: "t", PlannedMinutes: 25,
			StartedAt: end.Add(-25 * time.Minute), EndAt: end, Status: status, Version: 1,
		}
		if status == models.FocusPaused {
			s.Remaining = 10 * time.Minute
		}
		if err := f.store.SaveFocusSession(ctx, s, 0); err != nil {
			t.Fatal(err)
		}
	}
	seed(1, models.FocusRunning, now.Add(-time.Minute))
	seed(2, models.FocusRunning, now.Add(10*time.Minute))
	seed(3, models.FocusPaused, now.Add(10*time.Minute))

	if err := f.engine.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	if s, _ := f.store.GetFocusSession(ctx, 1); s != nil {
		t.Error("overdue session not completed")
	}
	if list, _ := f.store.ListPomodorosSince(ctx, 1, time.Time{}); len(list) != 1 || list[0].Outcome != models.OutcomeCompleted {
		t.Errorf("overdue archive = %+v", list)
	}
	if !f.engine.running(2) {
		t.Error("running session has no ticker")
	}
	if f.engine.running(3) {
		t.Error("paused session got a ticker")
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := map[time.Duration]string{
		25 * time.Minute:                "25:00",
		24*time.Minute + 55*time.Second: "24:55",
		1500 * time.Millisecond:         "00:02",
		-time.Second:                    "00:00",
		180 * time.Minute:               "180:00",
	}
	for d, want := range cases {
		if got := FormatRemaining(d); got != want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", d, got, want)
		}
	}
}

// blindFocusStore hides live focus sessions from reads, so Start reaches the create.
type blindFocusStore struct {
	*store.InMemoryStore
}

func (blindFocusStore) GetFocusSession(context.Context, int64) (*models.FocusSession, error) {
	return nil, nil
}

func TestStartSendsNoControlsWhenCreateFails(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	st := store.NewInMemoryStore()
	mgr := session.NewManager(blindFocusStore{st}, session.WithClock(clk))
	sender := &fakeSender{}
	e := NewEngine(mgr, st, st, sender, WithClock(clk), WithTickInterval(time.Hour))
	t.Cleanup(func() {
		e.Close()
		mgr.Close()
	})
	ctx := context.Background()
	if err := st.SaveFocusSession(ctx, models.FocusSession{
		ID: "taken", UserID: 7, PlannedMinutes: 25, StartedAt: now, EndAt: now.Add(25 * time.Minute),
		Status: models.FocusRunning, Version: 1,
	}, 0); err != nil {
		t.Fatal(err)
	}

	err := e.Start(ctx, models.NewUser(7, now, 0), 25, "task")
	if !errors.Is(err, ErrTimerAlreadyActive) {
		t.Fatalf("Start = %v, want ErrTimerAlreadyActive", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("controls sent for a session that was never stored: %+v", sender.sent)
	}
}

func TestStartAttachesTimerMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Start(ctx, f.user, 25, "task"); err != nil {
		t.Fatal(err)
	}
	s, _ := f.store.GetFocusSession(ctx, f.user.ID)
	if s == nil || s.Message.IsZero() {
		t.Fatalf("session = %+v, want the timer message attached", s)
	}
}

func TestStartSurvivesSendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.sendErr = errors.New("chat not found")
	if err := f.engine.Start(ctx, f.user, 25, "task"); err != nil {
		t.Fatal(err)
	}
	s, _ := f.store.GetFocusSession(ctx, f.user.ID)
	if s == nil || !s.Message.IsZero() || s.Version != 1 {
		t.Errorf("session = %+v, want stored without a message", s)
	}
}

func TestCompletionEditOutlivesTickerContext(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Start(context.Background(), f.user, 1, "short"); err != nil {
		t.Fatal(err)
	}
	s, _ := f.store.GetFocusSession(context.Background(), f.user.ID)

	// Run the tick on a context owned by the registered runner, as the ticker goroutine does.
	f.engine.stopRunner(f.user.ID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.mu.Lock()
	f.engine.runners[f.user.ID] = &runner{id: s.ID, version: s.Version, cancel: cancel}
	f.engine.mu.Unlock()

	f.clock.Advance(61 * time.Second)
	last := ""
	if !f.engine.tickOnce(ctx, f.user.ID, s.ID, s.Version, f.user.Locale, &last) {
		t.Fatal("tick past end should stop the ticker")
	}
	if ctx.Err() == nil {
		t.Fatal("finishing should cancel the runner context")
	}

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	if n := len(f.sender.editCtxErrs); n == 0 {
		t.Fatal("completion message not edited")
	}
	if err := f.sender.editCtxErrs[len(f.sender.editCtxErrs)-1]; err != nil {
		t.Errorf("completion edit ran on a cancelled context: %v", err)
	}
}
