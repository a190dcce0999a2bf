// Package router dispatches normalized inbound events to focus controls, flow
// triggers, the active flow, and the hub screens.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/flow"
	"github.com/BTreeMap/DailyMentor/internal/focus"
	"github.com/BTreeMap/DailyMentor/internal/gate"
	"github.com/BTreeMap/DailyMentor/internal/genai"
	"github.com/BTreeMap/DailyMentor/internal/messaging"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/session"
	"github.com/BTreeMap/DailyMentor/internal/store"
	"github.com/BTreeMap/DailyMentor/internal/texts"
)

// DefaultTrial is the trial granted on /start.
const DefaultTrial = 3 * 24 * time.Hour

// FocusController drives a user's focus timer.
type FocusController interface {
	Pause(ctx context.Context, u models.User) error
	Resume(ctx context.Context, u models.User) error
	Stop(ctx context.Context, u models.User) error
	Complete(ctx context.Context, u models.User) error
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Store    store.Store
	Dedup    store.DedupRepo
	Sessions *session.Manager
	Flows    *flow.Engine
	Focus    FocusController
	Gate     *gate.Gate
	LLM      genai.Generator
	Texts    *texts.Catalog
	Sender   messaging.Sender
	Clock    clock.Clock
}

// Opts holds router configuration.
type Opts struct {
	Trial      time.Duration
	PaymentURL string
}

// Option configures the Router.
type Option func(*Opts)

// WithTrial sets the trial length granted to new users.
func WithTrial(d time.Duration) Option {
	return func(o *Opts) {
		o.Trial = d
	}
}

// WithPaymentURL sets the subscription checkout link shown on the billing screen.
func WithPaymentURL(url string) Option {
	return func(o *Opts) {
		o.PaymentURL = url
	}
}

type action func(ctx context.Context, u models.User, ev messaging.InboundEvent) ([]models.OutMessage, error)

// Router routes inbound events for all users.
type Router struct {
	deps     Deps
	opts     Opts
	triggers map[string]action
	aliases  map[string]action
}

// New creates a Router.
func New(deps Deps, opts ...Option) *Router {
	cfg := Opts{Trial: DefaultTrial}
	for _, opt := range opts {
		opt(&cfg)
	}
	if deps.Clock == nil {
		deps.Clock = clock.System
	}
	if deps.Texts == nil {
		deps.Texts = texts.Default()
	}
	r := &Router{deps: deps, opts: cfg}
	r.registerTriggers()
	return r
}

// Handle implements messaging.Handler. Duplicate updates are dropped; each event
// runs inside the user's critical section.
func (r *Router) Handle(ctx context.Context, ev messaging.InboundEvent) {
	if ev.UserID == 0 {
		return
	}
	key := ev.DedupKey()
	if r.deps.Dedup != nil && ev.UpdateID != 0 {
		fresh, err := r.deps.Dedup.RecordInbound(ctx, key, ev.UserID)
		if err != nil {
			slog.Error("Router.Handle: dedup record failed", "userID", ev.UserID, "key", key, "error", err)
		} else if !fresh {
			slog.Debug("Router.Handle: duplicate update dropped", "userID", ev.UserID, "key", key)
			return
		}
	}

	err := r.deps.Sessions.WithUser(ctx, ev.UserID, func(ctx context.Context) error {
		u, err := r.user(ctx, ev.UserID)
		if err != nil {
			return err
		}
		msgs, err := r.Dispatch(ctx, u, ev)
		if err != nil {
			msgs = []models.OutMessage{r.errorMessage(u, err)}
		}
		for _, m := range msgs {
			if _, err := ev.Reply(ctx, m); err != nil {
				slog.Warn("Router.Handle: reply failed", "userID", u.ID, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("Router.Handle: event not processed", "userID", ev.UserID, "error", err)
		return
	}

	if r.deps.Dedup != nil && ev.UpdateID != 0 {
		if err := r.deps.Dedup.MarkProcessed(ctx, key); err != nil {
			slog.Warn("Router.Handle: mark processed failed", "key", key, "error", err)
		}
	}
}

// user loads the user, or returns unsaved defaults for first contact.
func (r *Router) user(ctx context.Context, id int64) (models.User, error) {
	u, err := r.deps.Store.GetUser(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if u == nil {
		return models.NewUser(id, r.deps.Clock.Now(), 0), nil
	}
	return *u, nil
}

// Dispatch routes ev for u. The caller holds u's critical section.
func (r *Router) Dispatch(ctx context.Context, u models.User, ev messaging.InboundEvent) ([]models.OutMessage, error) {
	text := strings.TrimSpace(ev.Text)

	if ev.Callback {
		if op := r.focusOp(text); op != nil {
			slog.Debug("Router.Dispatch: focus control", "userID", u.ID, "action", text)
			return nil, op(ctx, u)
		}
	}

	if act, ok := r.triggers[normalizeCommand(text)]; ok {
		slog.Debug("Router.Dispatch: trigger", "userID", u.ID, "trigger", text)
		return act(ctx, u, ev)
	}

	active, err := r.deps.Flows.Active(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		resp, err := r.deps.Flows.Submit(ctx, u, flow.Input{Text: text, Callback: ev.Callback})
		if err != nil {
			return nil, err
		}
		return resp.Messages, nil
	}

	if act, ok := r.aliases[strings.ToLower(text)]; ok {
		return act(ctx, u, ev)
	}
	if strings.HasPrefix(text, flow.OptionPrefix) {
		return r.text(u, "flow.no_active"), nil
	}
	return []models.OutMessage{messaging.Menu(r.t(u, "menu.hint"))}, nil
}

func (r *Router) focusOp(data string) func(context.Context, models.User) error {
	if r.deps.Focus == nil {
		return nil
	}
	switch data {
	case focus.ActionPause:
		return r.deps.Focus.Pause
	case focus.ActionResume:
		return r.deps.Focus.Resume
	case focus.ActionStop:
		return r.deps.Focus.Stop
	case focus.ActionDone:
		return r.deps.Focus.Complete
	}
	return nil
}

// normalizeCommand strips the @botname suffix from commands.
func normalizeCommand(text string) string {
	if !strings.HasPrefix(text, "/") {
		return text
	}
	cmd := strings.Fields(text)
	if len(cmd) == 0 {
		return text
	}
	name, _, _ := strings.Cut(cmd[0], "@")
	return name
}

// errorMessage maps err to catalog text. Raw error text never reaches the user.
func (r *Router) errorMessage(u models.User, err error) models.OutMessage {
	switch {
	case errors.Is(err, flow.ErrNoActiveFlow):
		return models.Text(r.t(u, "flow.no_active"))
	case errors.Is(err, focus.ErrNoActiveTimer):
		return models.Text(r.t(u, "focus.no_active"))
	case errors.Is(err, focus.ErrTimerAlreadyActive):
		return models.Text(r.t(u, "focus.already_active"))
	case errors.Is(err, store.ErrVersionConflict):
		slog.Warn("Router: concurrent session update", "userID", u.ID, "error", err)
	default:
		slog.Error("Router: request failed", "userID", u.ID, "error", err)
	}
	return models.Text(r.t(u, "error.general"))
}

func (r *Router) t(u models.User, key string) string {
	return r.deps.Texts.Get(u.Locale, key)
}

func (r *Router) tf(u models.User, key string, args ...any) string {
	return r.deps.Texts.Format(u.Locale, key, args...)
}

func (r *Router) text(u models.User, key string) []models.OutMessage {
	return []models.OutMessage{models.Text(r.t(u, key))}
}

func (r *Router) startFlow(ctx context.Context, u models.User, name models.FlowName) ([]models.OutMessage, error) {
	resp, err := r.deps.Flows.Start(ctx, u, name)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// gated starts name only if the gate allows feature.
func (r *Router) gated(feature gate.Feature, name models.FlowName) action {
	return func(ctx context.Context, u models.User, _ messaging.InboundEvent) ([]models.OutMessage, error) {
		if r.deps.Gate != nil {
			d, err := r.deps.Gate.Check(ctx, u, feature)
			if err != nil {
				return nil, err
			}
			if !d.Allowed {
				slog.Debug("Router.gated: denied", "userID", u.ID, "feature", feature, "reason", d.Reason)
				return []models.OutMessage{r.denied(u, d)}, nil
			}
		}
		return r.startFlow(ctx, u, name)
	}
}

func (r *Router) denied(u models.User, d gate.Decision) models.OutMessage {
	msg := models.Text(r.t(u, d.TextKey))
	if r.opts.PaymentURL != "" {
		msg.Keyboard = models.Column(models.Button{Label: "💳 Оформить подписку", URL: r.opts.PaymentURL})
	}
	return msg
}
