package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

// Defaults for TelegramService.
const (
	DefaultPollTimeout = 10 * time.Second
	DefaultSendTimeout = 10 * time.Second
	DefaultSendRetries = 3
	DefaultRetryBase   = 500 * time.Millisecond
)

// Opts holds configuration for TelegramService.
type Opts struct {
	PollTimeout time.Duration
	SendTimeout time.Duration
	Retries     int
	RetryBase   time.Duration
	APIURL      string
	// Offline skips the getMe call on construction (tests).
	Offline bool
}

// Option configures TelegramService.
type Option func(*Opts)

// WithPollTimeout sets the long-poll timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.PollTimeout = d
	}
}

// WithSendTimeout bounds each Bot API request.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.SendTimeout = d
	}
}

// WithRetries sets how many times a send or edit is attempted.
func WithRetries(n int, base time.Duration) Option {
	return func(o *Opts) {
		o.Retries = n
		o.RetryBase = base
	}
}

// WithAPIURL points the bot at a different Bot API server.
func WithAPIURL(url string) Option {
	return func(o *Opts) {
		o.APIURL = url
	}
}

// WithOffline builds the bot without contacting Telegram.
func WithOffline() Option {
	return func(o *Opts) {
		o.Offline = true
	}
}

// TelegramService implements Transport on the Telegram Bot API.
type TelegramService struct {
	bot       *tele.Bot
	retries   int
	retryBase time.Duration

	mu      sync.Mutex
	running bool
}

var _ Transport = (*TelegramService)(nil)

// NewTelegramService creates a long-polling Telegram transport.
func NewTelegramService(token string, opts ...Option) (*TelegramService, error) {
	cfg := Opts{
		PollTimeout: DefaultPollTimeout,
		SendTimeout: DefaultSendTimeout,
		Retries:     DefaultSendRetries,
		RetryBase:   DefaultRetryBase,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     cfg.APIURL,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  &http.Client{Timeout: cfg.PollTimeout + cfg.SendTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			slog.Error("TelegramService: handler error", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	slog.Debug("TelegramService created", "pollTimeout", cfg.PollTimeout, "retries", cfg.Retries)
	return &TelegramService{bot: bot, retries: cfg.Retries, retryBase: cfg.RetryBase}, nil
}

// Start registers the update handlers and begins polling in the background.
func (s *TelegramService) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("telegram service already started")
	}

	s.bot.Handle(tele.OnText, func(c tele.Context) error {
		h(ctx, s.textEvent(c))
		return nil
	})
	s.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if err := c.Respond(); err != nil {
			slog.Debug("TelegramService: callback ack failed", "error", err)
		}
		h(ctx, s.callbackEvent(c))
		return nil
	})

	s.running = true
	go s.bot.Start()
	slog.Info("TelegramService started polling")
	return nil
}

// Stop stops polling. It is safe to call more than once.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.bot.Stop()
	s.running = false
	slog.Info("TelegramService stopped")
	return nil
}

func (s *TelegramService) textEvent(c tele.Context) InboundEvent {
	ev := InboundEvent{UpdateID: int64(c.Update().ID), Text: c.Text()}
	if u := c.Sender(); u != nil {
		ev.UserID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		ev.ChatID = ch.ID
	}
	return NewInboundEvent(ev, s)
}

func (s *TelegramService) callbackEvent(c tele.Context) InboundEvent {
	ev := s.textEvent(c)
	ev.Callback = true
	if cb := c.Callback(); cb != nil {
		ev.Text = strings.TrimPrefix(cb.Data, "\f")
		if m := cb.Message; m != nil && m.Chat != nil {
			ev.Message = models.MessageRef{ChatID: m.Chat.ID, MessageID: m.ID}
		}
	}
	return ev
}

// Send delivers msg to the user's private chat.
func (s *TelegramService) Send(ctx context.Context, userID int64, msg models.OutMessage) (models.MessageRef, error) {
	var sent *tele.Message
	err := s.withRetry(ctx, "send", func() error {
		var err error
		var opts []interface{}
		if m := sendMarkup(msg); m != nil {
			opts = append(opts, m)
		}
		sent, err = s.bot.Send(tele.ChatID(userID), msg.Text, opts...)
		return err
	})
	if err != nil {
		return models.MessageRef{}, err
	}
	ref := models.MessageRef{ChatID: userID, MessageID: sent.ID}
	if sent.Chat != nil {
		ref.ChatID = sent.Chat.ID
	}
	return ref, nil
}

// Edit replaces the text and inline keyboard of a sent message.
func (s *TelegramService) Edit(ctx context.Context, ref models.MessageRef, msg models.OutMessage) error {
	target := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	return s.withRetry(ctx, "edit", func() error {
		var err error
		if kb := inlineMarkup(msg.Keyboard); kb != nil {
			_, err = s.bot.Edit(target, msg.Text, kb)
		} else {
			_, err = s.bot.Edit(target, msg.Text)
		}
		return classifyEditError(err)
	})
}

// withRetry runs op with exponential backoff. Client errors are not retried.
func (s *TelegramService) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			delay := s.retryBase * time.Duration(1<<(attempt-1))
			var flood *tele.FloodError
			if errors.As(err, &flood) && flood.RetryAfter > 0 {
				delay = time.Duration(flood.RetryAfter) * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		slog.Warn("TelegramService: request failed", "op", op, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("telegram %s after %d attempts: %w", op, s.retries, err)
}

func retryable(err error) bool {
	if errors.Is(err, ErrMessageNotEditable) {
		return false
	}
	var flood *tele.FloodError
	if errors.As(err, &flood) {
		return true
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}
	return true
}

// classifyEditError treats an unchanged message as success and maps
// non-editable targets to ErrMessageNotEditable.
func classifyEditError(err error) error {
	if err == nil {
		return nil
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "message is not modified"):
		return nil
	case strings.Contains(text, "can't be edited"), strings.Contains(text, "message to edit not found"):
		return fmt.Errorf("%w: %v", ErrMessageNotEditable, err)
	}
	return err
}

func inlineMarkup(kb models.Keyboard) *tele.ReplyMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tele.InlineButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tele.InlineButton{Text: b.Label, Data: b.Data, URL: b.URL})
		}
		rows = append(rows, buttons)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func mainMenuMarkup() *tele.ReplyMarkup {
	rows := make([][]tele.ReplyButton, 0, len(MainMenuRows))
	for _, row := range MainMenuRows {
		buttons := make([]tele.ReplyButton, 0, len(row))
		for _, l := range row {
			buttons = append(buttons, tele.ReplyButton{Text: l})
		}
		rows = append(rows, buttons)
	}
	return &tele.ReplyMarkup{ReplyKeyboard: rows, ResizeKeyboard: true}
}

// sendMarkup picks the markup of a new message. Telegram allows one per message,
// so an inline keyboard wins over the main menu.
func sendMarkup(msg models.OutMessage) *tele.ReplyMarkup {
	if kb := inlineMarkup(msg.Keyboard); kb != nil {
		return kb
	}
	if msg.MainMenu {
		return mainMenuMarkup()
	}
	return nil
}
