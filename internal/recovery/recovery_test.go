package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRecoverAllRunsInOrderAndContinuesPastFailures(t *testing.T) {
	var order []string
	m := NewManager()
	m.Register("focus", Func(func(context.Context) error {
		order = append(order, "focus")
		return nil
	}))
	m.Register("jobs", Func(func(context.Context) error {
		order = append(order, "jobs")
		return errors.New("db down")
	}))
	m.Register("outbox", Func(func(context.Context) error {
		order = append(order, "outbox")
		return nil
	}))

	err := m.RecoverAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "1 errors out of 3") {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(order, ",") != "focus,jobs,outbox" {
		t.Errorf("order = %v", order)
	}
}

func TestRecoverAllEmpty(t *testing.T) {
	if err := NewManager().RecoverAll(context.Background()); err != nil {
		t.Errorf("empty manager: %v", err)
	}
}

func TestRecoverAllStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	m := NewManager()
	m.Register("focus", Func(func(context.Context) error {
		called = true
		return nil
	}))
	if err := m.RecoverAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("component ran after cancellation")
	}
}
