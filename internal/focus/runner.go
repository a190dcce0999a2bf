package focus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/session"
)

// FormatRemaining renders d as MM:SS, rounding partial seconds up.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func controls(status models.FocusStatus) models.Keyboard {
	if status == models.FocusPaused {
		return models.Keyboard{models.Row(
			models.Button{Label: "▶️", Data: ActionResume},
			models.Button{Label: "⏹", Data: ActionStop},
		)}
	}
	return models.Keyboard{models.Row(
		models.Button{Label: "⏸", Data: ActionPause},
		models.Button{Label: "⏹", Data: ActionStop},
		models.Button{Label: "✅", Data: ActionDone},
	)}
}

func (e *Engine) render(locale string, s *models.FocusSession, now time.Time) models.OutMessage {
	left := FormatRemaining(s.RemainingAt(now))
	var text string
	if s.Status == models.FocusPaused {
		text = e.texts.Format(locale, "focus.paused", left, s.Task)
	} else {
		text = e.texts.Format(locale, "focus.running", s.PlannedMinutes, left, s.Task)
	}
	return models.OutMessage{Text: text, Keyboard: controls(s.Status)}
}

// startRunner launches the ticker for s, replacing any previous one for the user.
func (e *Engine) startRunner(s models.FocusSession, locale string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if old := e.runners[s.UserID]; old != nil {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.runners[s.UserID] = &runner{id: s.ID, version: s.Version, cancel: cancel}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.forget(s.UserID, s.ID, s.Version)
		t := time.NewTicker(e.tick)
		defer t.Stop()
		last := e.render(locale, &s, e.clock.Now()).Text
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			if e.tickOnce(ctx, s.UserID, s.ID, s.Version, locale, &last) {
				return
			}
		}
	}()
}

// stopRunner cancels the user's ticker without waiting for it. The ticker may be
// blocked on the user's lock, which the caller usually holds.
func (e *Engine) stopRunner(userID int64) {
	e.mu.Lock()
	if r := e.runners[userID]; r != nil {
		r.cancel()
		delete(e.runners, userID)
	}
	e.mu.Unlock()
}

func (e *Engine) forget(userID int64, id string, version int64) {
	e.mu.Lock()
	if r := e.runners[userID]; r != nil && r.id == id && r.version == version {
		r.cancel()
		delete(e.runners, userID)
	}
	e.mu.Unlock()
}

// running reports whether a ticker is registered for the user.
func (e *Engine) running(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runners[userID] != nil
}

// tickOnce refreshes the display of the session (id, version) and completes it once
// its end has passed. It reports true when the ticker should exit.
func (e *Engine) tickOnce(ctx context.Context, userID int64, id string, version int64, locale string, last *string) bool {
	stop := false
	err := e.sessions.WithUser(ctx, userID, func(ctx context.Context) error {
		s, err := e.sessions.Focus(ctx, userID)
		if err != nil {
			return err
		}
		if s == nil || s.ID != id || s.Version != version || s.Status != models.FocusRunning {
			stop = true
			return nil
		}
		now := e.clock.Now()
		if !now.Before(s.EndAt) {
			stop = true
			return e.finish(ctx, locale, s, models.OutcomeCompleted, now)
		}
		msg := e.render(locale, s, now)
		if msg.Text == *last || s.Message.IsZero() {
			return nil
		}
		if err := e.sender.Edit(ctx, s.Message, msg); err != nil {
			slog.Debug("focus.Engine.tickOnce: edit failed", "userID", userID, "error", err)
			return nil
		}
		*last = msg.Text
		return nil
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, session.ErrClosed) {
			return true
		}
		slog.Warn("focus.Engine.tickOnce: tick failed", "userID", userID, "sessionID", id, "error", err)
	}
	return stop
}
