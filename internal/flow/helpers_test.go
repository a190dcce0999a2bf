package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/gate"
	"github.com/BTreeMap/DailyMentor/internal/genai"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/session"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

// stubLLM returns text, or fails when err is set.
type stubLLM struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []genai.GenerateRequest
	// during runs inside Generate, standing in for writes that land while the model is busy.
	during func()
}

func (s *stubLLM) Generate(_ context.Context, req genai.GenerateRequest) (genai.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.during != nil {
		s.during()
	}
	if s.err != nil {
		return genai.Result{}, s.err
	}
	return genai.Result{Text: s.text}, nil
}

type stubFocus struct {
	err     error
	minutes int
	task    string
}

func (s *stubFocus) Start(_ context.Context, _ models.User, minutes int, task string) error {
	s.minutes, s.task = minutes, task
	return s.err
}

var errLLMDown = errors.New("llm down")

type testEnv struct {
	engine *Engine
	store  *store.InMemoryStore
	clock  *clock.Fake
	llm    *stubLLM
	focus  *stubFocus
}

const testTrial = 72 * time.Hour

func newTestEnv(t *testing.T) *testEnv {
	return newWrappedTestEnv(t, func(st *store.InMemoryStore) store.Store { return st })
}

// newWrappedTestEnv lets a test put a store wrapper between the engine and the in-memory store.
func newWrappedTestEnv(t *testing.T, wrap func(*store.InMemoryStore) store.Store) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	st := store.NewInMemoryStore()
	mgr := session.NewManager(st, session.WithClock(clk))
	t.Cleanup(mgr.Close)
	llm := &stubLLM{text: "generated"}
	fs := &stubFocus{}
	e := NewEngine(Deps{
		Store:    wrap(st),
		Sessions: mgr,
		LLM:      llm,
		Gate:     gate.New(st, clk),
		Focus:    fs,
		Clock:    clk,
		Trial:    testTrial,
	})
	return &testEnv{engine: e, store: st, clock: clk, llm: llm, focus: fs}
}

// user stores and returns a free user without a trial.
func (env *testEnv) user(t *testing.T, id int64) models.User {
	t.Helper()
	u := models.NewUser(id, env.clock.Now(), 0)
	if err := env.store.UpsertUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func (env *testEnv) submit(t *testing.T, u models.User, text string) Response {
	t.Helper()
	resp, err := env.engine.Submit(context.Background(), u, Input{Text: text})
	if err != nil {
		t.Fatalf("Submit(%q): %v", text, err)
	}
	return resp
}

func (env *testEnv) start(t *testing.T, u models.User, name models.FlowName) Response {
	t.Helper()
	resp, err := env.engine.Start(context.Background(), u, name)
	if err != nil {
		t.Fatalf("Start(%s): %v", name, err)
	}
	return resp
}

func respTexts(resp Response) []string {
	out := make([]string, len(resp.Messages))
	for i, m := range resp.Messages {
		out[i] = m.Text
	}
	return out
}

// flakyMemoryStore fails the next failMemory AddMemory calls.
type flakyMemoryStore struct {
	*store.InMemoryStore
	failMemory int
}

func (s *flakyMemoryStore) AddMemory(ctx context.Context, userID int64, kind models.MemoryKind, content string) error {
	if s.failMemory > 0 {
		s.failMemory--
		return errors.New("disk full")
	}
	return s.InMemoryStore.AddMemory(ctx, userID, kind, content)
}

type ctxKey struct{}

// ctxRecordingStore remembers the context its habit lister was called with.
type ctxRecordingStore struct {
	*store.InMemoryStore
	mu   sync.Mutex
	seen []context.Context
}

func (s *ctxRecordingStore) ListHabits(ctx context.Context, userID int64) ([]models.Habit, error) {
	s.mu.Lock()
	s.seen = append(s.seen, ctx)
	s.mu.Unlock()
	return s.InMemoryStore.ListHabits(ctx, userID)
}
