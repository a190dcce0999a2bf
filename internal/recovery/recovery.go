// Package recovery restores in-flight work after a restart.
//
// Components register a Recoverable; the Manager runs them once at startup,
// before the transport begins delivering updates.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable restores one component's state.
type Recoverable interface {
	RecoverState(ctx context.Context) error
}

// Func adapts a plain function to Recoverable.
type Func func(ctx context.Context) error

// RecoverState calls f.
func (f Func) RecoverState(ctx context.Context) error {
	return f(ctx)
}

type entry struct {
	name string
	r    Recoverable
}

// Manager orchestrates recovery of all registered components.
type Manager struct {
	entries []entry
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component. Components recover in registration order.
func (m *Manager) Register(name string, r Recoverable) {
	m.entries = append(m.entries, entry{name: name, r: r})
}

// RecoverAll runs every component, continuing past failures.
// The returned error counts the failed components.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(m.entries))

	failed := 0
	for _, e := range m.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.r.RecoverState(ctx); err != nil {
			slog.Error("Component recovery failed", "component", e.name, "error", err)
			failed++
			continue
		}
		slog.Debug("Component recovered", "component", e.name)
	}

	slog.Info("Application recovery completed", "recovered", len(m.entries)-failed, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(m.entries))
	}
	return nil
}
