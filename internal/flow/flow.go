// Package flow implements the multi-step dialogues: profile intake, morning and
// evening journaling, mood check-ins, the reflect dialogue, settings, and the
// habit, abstinence and focus-setup flows.
//
// Every Engine method expects to run inside the user's session critical section.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/gate"
	"github.com/BTreeMap/DailyMentor/internal/genai"
	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/session"
	"github.com/BTreeMap/DailyMentor/internal/store"
	"github.com/BTreeMap/DailyMentor/internal/texts"
)

var (
	// ErrNoActiveFlow is returned by Submit when the user has no flow session.
	ErrNoActiveFlow = errors.New("no active flow")
	// ErrFlowAlreadyActive is reserved for a policy that refuses to supersede a running flow.
	ErrFlowAlreadyActive = errors.New("flow already active")
	// ErrValidation marks input a step rejected; the step is re-prompted.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownFlow is returned when starting a flow that is not registered.
	ErrUnknownFlow = errors.New("unknown flow")
)

// finish is the pseudo step id that ends a flow.
const finish models.StepID = ""

// OptionPrefix starts the callback data of every flow option button.
const OptionPrefix = "f:"

// Option is a preset answer rendered as a button.
type Option struct {
	Label string
	// Value is recorded when the option is picked; it defaults to Label.
	Value string
}

func (o Option) value() string {
	if o.Value != "" {
		return o.Value
	}
	return o.Label
}

// Input is a raw user reply. Callback is set when it came from a button press.
type Input struct {
	Text     string
	Callback bool
}

// Ctx carries the user and session to step callbacks.
type Ctx struct {
	User    models.User
	Session *models.FlowSession
}

// Step is one prompt of a flow.
type Step struct {
	ID     models.StepID
	Prompt func(c *Ctx) string
	// Options returns the preset answers shown with the prompt.
	Options func(ctx context.Context, c *Ctx) ([]Option, error)
	// PerRow lays options out in rows of this width; zero means one per row.
	PerRow int
	// Parse validates free text. A nil Parse accepts any non-empty text.
	Parse func(c *Ctx, text string) ([]string, error)
	// Choose restricts free text to one of the Options. Parse is ignored when set.
	Choose bool
	// Next picks the following step; nil means the next one in declaration order.
	Next func(c *Ctx, values []string) models.StepID
}

// Definition declares a flow.
type Definition struct {
	Name  models.FlowName
	Steps []Step
	// Precheck may answer instead of starting the flow, e.g. when there is nothing to select.
	Precheck func(ctx context.Context, c *Ctx) (*Response, error)
	Finish   func(ctx context.Context, c *Ctx) (Response, error)
	// KeepSession leaves the session in place after Finish.
	KeepSession bool
}

func (d *Definition) step(id models.StepID) (int, *Step) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return i, &d.Steps[i]
		}
	}
	return -1, nil
}

// Response is what a flow operation wants sent back to the user.
type Response struct {
	Messages []models.OutMessage
	// Reprompt is set when the input was rejected and the same step is asked again.
	Reprompt bool
	// Finished is set when the flow ran its finish handler.
	Finished bool
}

func reply(msgs ...models.OutMessage) Response {
	return Response{Messages: msgs}
}

// FocusStarter starts a focus timer; it sends the timer message itself.
type FocusStarter interface {
	Start(ctx context.Context, u models.User, minutes int, task string) error
}

// Deps are the collaborators flows call out to.
type Deps struct {
	Store    store.Store
	Sessions *session.Manager
	// LLM may be nil; generated replies then fall back to fixed text.
	LLM   genai.Generator
	Texts *texts.Catalog
	Gate  *gate.Gate
	Focus FocusStarter
	Clock clock.Clock
	// Trial is granted to users created by a flow.
	Trial time.Duration
}

// Engine runs flow definitions against persisted sessions.
type Engine struct {
	deps     Deps
	registry map[models.FlowName]*Definition
}

// NewEngine creates an Engine with every built-in flow registered.
func NewEngine(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.System
	}
	if deps.Texts == nil {
		deps.Texts = texts.Default()
	}
	e := &Engine{deps: deps, registry: make(map[models.FlowName]*Definition)}
	e.registerJournalFlows()
	e.registerSettingsFlows()
	e.registerTrackingFlows()
	return e
}

// Register adds or replaces a flow definition.
func (e *Engine) Register(d *Definition) {
	e.registry[d.Name] = d
}

// Has reports whether name is a registered flow.
func (e *Engine) Has(name models.FlowName) bool {
	_, ok := e.registry[name]
	return ok
}

// Active returns the user's flow session, or nil.
func (e *Engine) Active(ctx context.Context, userID int64) (*models.FlowSession, error) {
	return e.deps.Sessions.Flow(ctx, userID)
}

func (e *Engine) t(u models.User, key string) string {
	return e.deps.Texts.Get(u.Locale, key)
}

func (e *Engine) tf(u models.User, key string, args ...any) string {
	return e.deps.Texts.Format(u.Locale, key, args...)
}

// Start supersedes any active flow and returns the first prompt of name.
func (e *Engine) Start(ctx context.Context, u models.User, name models.FlowName) (Response, error) {
	def, ok := e.registry[name]
	if !ok {
		return Response{}, fmt.Errorf("start %s: %w", name, ErrUnknownFlow)
	}
	c := &Ctx{User: u, Session: &models.FlowSession{UserID: u.ID, Flow: name, Step: def.Steps[0].ID}}
	if def.Precheck != nil {
		resp, err := def.Precheck(ctx, c)
		if err != nil {
			return Response{}, err
		}
		if resp != nil {
			return *resp, nil
		}
	}

	s, err := e.deps.Sessions.StartFlow(ctx, u.ID, name, def.Steps[0].ID)
	if err != nil {
		return Response{}, err
	}
	c.Session = s
	slog.Debug("Engine.Start: flow started", "userID", u.ID, "flow", name)

	msg, err := e.render(ctx, def, &def.Steps[0], c)
	if err != nil {
		return Response{}, err
	}
	return reply(msg), nil
}

// Submit feeds one reply into the active flow.
func (e *Engine) Submit(ctx context.Context, u models.User, in Input) (Response, error) {
	s, err := e.deps.Sessions.Flow(ctx, u.ID)
	if err != nil {
		return Response{}, err
	}
	if s == nil {
		return Response{}, ErrNoActiveFlow
	}
	def, ok := e.registry[s.Flow]
	if !ok {
		slog.Warn("Engine.Submit: session for unregistered flow, clearing", "userID", u.ID, "flow", s.Flow)
		if err := e.deps.Sessions.EndFlow(ctx, u.ID); err != nil {
			return Response{}, err
		}
		return Response{}, ErrNoActiveFlow
	}
	idx, step := def.step(s.Step)
	if step == nil {
		slog.Warn("Engine.Submit: unknown step, restarting flow", "userID", u.ID, "flow", s.Flow, "step", s.Step)
		return e.Start(ctx, u, s.Flow)
	}

	c := &Ctx{User: u, Session: s}
	values, err := e.resolve(ctx, def, step, c, in)
	if errors.Is(err, ErrValidation) {
		slog.Debug("Engine.Submit: input rejected", "userID", u.ID, "flow", s.Flow, "step", s.Step, "error", err)
		return e.reprompt(ctx, def, step, c, err)
	}
	if err != nil {
		return Response{}, err
	}

	next := e.nextStep(def, idx, step, c, values)
	updated := s.Clone()
	updated.SetValues(step.ID, values...)
	c.Session = updated

	if next == finish {
		resp, err := def.Finish(ctx, c)
		if err != nil {
			return Response{}, fmt.Errorf("finish %s: %w", def.Name, err)
		}
		resp.Finished = true
		if def.KeepSession {
			err = e.deps.Sessions.SaveFlow(ctx, c.Session)
		} else {
			err = e.deps.Sessions.EndFlow(ctx, u.ID)
		}
		if err != nil {
			return Response{}, err
		}
		slog.Debug("Engine.Submit: flow finished", "userID", u.ID, "flow", def.Name)
		return resp, nil
	}

	_, nextStep := def.step(next)
	if nextStep == nil {
		return Response{}, fmt.Errorf("flow %s: step %q not declared", def.Name, next)
	}
	updated.Step = next
	if err := e.deps.Sessions.SaveFlow(ctx, updated); err != nil {
		return Response{}, err
	}
	slog.Debug("Engine.Submit: advanced", "userID", u.ID, "flow", def.Name, "step", next)

	msg, err := e.render(ctx, def, nextStep, c)
	if err != nil {
		return Response{}, err
	}
	msg.Replace = in.Callback
	return reply(msg), nil
}

// Cancel deletes the active flow, if any, and acknowledges.
func (e *Engine) Cancel(ctx context.Context, u models.User) (Response, error) {
	if err := e.deps.Sessions.EndFlow(ctx, u.ID); err != nil {
		return Response{}, err
	}
	slog.Debug("Engine.Cancel", "userID", u.ID)
	return reply(models.OutMessage{Text: e.t(u, "flow.cancelled"), MainMenu: true}), nil
}

func (e *Engine) nextStep(def *Definition, idx int, step *Step, c *Ctx, values []string) models.StepID {
	if step.Next != nil {
		return step.Next(c, values)
	}
	if idx+1 < len(def.Steps) {
		return def.Steps[idx+1].ID
	}
	return finish
}

// resolve maps a reply to the values recorded for step.
func (e *Engine) resolve(ctx context.Context, def *Definition, step *Step, c *Ctx, in Input) ([]string, error) {
	raw := strings.TrimSpace(in.Text)
	if strings.HasPrefix(raw, OptionPrefix) {
		opts, err := e.options(ctx, step, c)
		if err != nil {
			return nil, err
		}
		i, ok := parseOptionData(raw, def.Name, step.ID)
		if !ok || i >= len(opts) {
			return nil, fmt.Errorf("%w: stale option %q", ErrValidation, raw)
		}
		return []string{opts[i].value()}, nil
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrValidation)
	}
	if step.Choose {
		opts, err := e.options(ctx, step, c)
		if err != nil {
			return nil, err
		}
		return parseChoice(opts)(c, raw)
	}
	if step.Parse != nil {
		return step.Parse(c, raw)
	}
	return []string{raw}, nil
}

func (e *Engine) options(ctx context.Context, step *Step, c *Ctx) ([]Option, error) {
	if step.Options == nil {
		return nil, nil
	}
	return step.Options(ctx, c)
}

func (e *Engine) render(ctx context.Context, def *Definition, step *Step, c *Ctx) (models.OutMessage, error) {
	opts, err := e.options(ctx, step, c)
	if err != nil {
		return models.OutMessage{}, err
	}
	msg := models.OutMessage{Text: step.Prompt(c)}
	if len(opts) == 0 {
		return msg, nil
	}
	per := step.PerRow
	if per <= 0 {
		per = 1
	}
	var row []models.Button
	for i, o := range opts {
		row = append(row, models.Button{Label: o.Label, Data: OptionData(def.Name, step.ID, i)})
		if len(row) == per || i == len(opts)-1 {
			msg.Keyboard = append(msg.Keyboard, row)
			row = nil
		}
	}
	return msg, nil
}

func (e *Engine) reprompt(ctx context.Context, def *Definition, step *Step, c *Ctx, cause error) (Response, error) {
	key := "error.invalid_input"
	var ve *validationError
	if errors.As(cause, &ve) {
		key = ve.key
	}
	msg, err := e.render(ctx, def, step, c)
	if err != nil {
		return Response{}, err
	}
	return Response{Messages: []models.OutMessage{models.Text(e.t(c.User, key)), msg}, Reprompt: true}, nil
}

// OptionData encodes the callback data for option idx of a step.
func OptionData(flow models.FlowName, step models.StepID, idx int) string {
	return fmt.Sprintf("%s%s:%s:%d", OptionPrefix, flow, step, idx)
}

func parseOptionData(data string, flow models.FlowName, step models.StepID) (int, bool) {
	parts := strings.Split(strings.TrimPrefix(data, OptionPrefix), ":")
	if len(parts) != 3 || parts[0] != string(flow) || parts[1] != string(step) {
		return 0, false
	}
	i, err := strconv.Atoi(parts[2])
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}
