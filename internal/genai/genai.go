// Package genai provides text generation for DailyMentor using the OpenAI API.
package genai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrLLMUnavailable is returned when generation failed after all retries.
	ErrLLMUnavailable = errors.New("llm unavailable")
	// ErrNoChoicesReturned is returned when the API answers without any choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// Default generation parameters.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
	DefaultTimeout     = 15 * time.Second
	DefaultRetries     = 3
	// DuplicateTemperatureStep is added to the temperature when a duplicate result is retried.
	DuplicateTemperatureStep = 0.2
	// MaxTemperature caps the retry temperature.
	MaxTemperature = 1.2
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChat adapts the SDK completions service to chatService.
type openAIChat struct {
	svc *openai.ChatCompletionService
}

func (o openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Generator is the contract flows use to produce text.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Result, error)
}

// GenerateRequest describes a single generation.
type GenerateRequest struct {
	// UserID and Purpose scope duplicate detection; a zero UserID disables it.
	UserID      int64
	Purpose     Purpose
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Result is a generated text.
type Result struct {
	Text string
	// Duplicate reports that Text matches the previous result for the same user and purpose.
	Duplicate bool
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Retries     int
	RetryBase   time.Duration
	DebugMode   bool
	StateDir    string
	Temperature float64
	MaxTokens   int
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTimeout bounds each API attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithRetries sets how many attempts are made before giving up.
func WithRetries(n int) Option {
	return func(o *Opts) {
		o.Retries = n
	}
}

// WithRetryBase sets the first backoff delay; each retry doubles it.
func WithRetryBase(d time.Duration) Option {
	return func(o *Opts) {
		o.RetryBase = d
	}
}

// WithDebugMode writes every request and response as JSON under <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	retries     int
	retryBase   time.Duration
	debugMode   bool
	stateDir    string

	mu   sync.Mutex
	last map[string]string // (user, purpose) -> hash of the last result
}

// NewClient initializes a GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Timeout:     DefaultTimeout,
		Retries:     DefaultRetries,
		RetryBase:   500 * time.Millisecond,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "timeout", cfg.Timeout, "retries", cfg.Retries)
	return &Client{
		chat:        openAIChat{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		retries:     cfg.Retries,
		retryBase:   cfg.RetryBase,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Generate produces text for req, retrying transient failures with exponential backoff.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	}

	text, err := c.complete(ctx, params)
	c.writeDebugLog("Generate", params, text, err)
	if err != nil {
		slog.Warn("Client.Generate: generation failed", "userID", req.UserID, "purpose", req.Purpose, "error", err)
		return Result{}, err
	}

	res := Result{Text: text}
	if req.UserID != 0 {
		res.Duplicate = c.remember(req.UserID, req.Purpose, text)
	}
	slog.Debug("Client.Generate: generated", "userID", req.UserID, "purpose", req.Purpose, "chars", len(text), "duplicate", res.Duplicate)
	return res, nil
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	attempts := c.retries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retryBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrLLMUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		callCtx := ctx
		cancel := func() {}
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		resp, err := c.chat.Create(callCtx, params)
		cancel()
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", ErrNoChoicesReturned
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}
		lastErr = err
		slog.Debug("Client.complete: attempt failed", "attempt", attempt+1, "of", attempts, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", ErrLLMUnavailable, lastErr)
}

// remember stores the hash of text for (user, purpose) and reports whether it repeats the previous one.
func (c *Client) remember(userID int64, purpose Purpose, text string) bool {
	key := fmt.Sprintf("%d:%s", userID, purpose)
	sum := sha256.Sum256([]byte(normalize(text)))
	h := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		c.last = make(map[string]string)
	}
	dup := c.last[key] == h
	c.last[key] = h
	return dup
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// GenerateUnique calls g and, when the result repeats the previous one, retries once
// with a higher temperature. The second result is accepted as is.
func GenerateUnique(ctx context.Context, g Generator, req GenerateRequest) (string, error) {
	res, err := g.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if !res.Duplicate {
		return res.Text, nil
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = DefaultTemperature
	}
	req.Temperature = min(temp+DuplicateTemperatureStep, MaxTemperature)
	slog.Debug("genai.GenerateUnique: duplicate result, retrying", "userID", req.UserID, "purpose", req.Purpose, "temperature", req.Temperature)
	retry, err := g.Generate(ctx, req)
	if err != nil {
		// The first text is still usable.
		return res.Text, nil
	}
	return retry.Text, nil
}

type debugLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Model     string    `json:"model"`
	Params    any       `json:"params"`
	Response  string    `json:"response"`
	Error     string    `json:"error,omitempty"`
}

func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, response string, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("Client.writeDebugLog: mkdir failed", "dir", dir, "error", err)
		return
	}
	entry := debugLogEntry{Timestamp: time.Now(), Method: method, Model: c.model, Params: params, Response: response}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", entry.Timestamp.Format("20060102_150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("Client.writeDebugLog: write failed", "error", err)
	}
}
