// Package api provides the HTTP server for DailyMentor.
//
// It exposes the Tribute billing webhook and a health probe. Payment
// confirmations reach the user through the durable outbox.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/store"
	"github.com/BTreeMap/DailyMentor/internal/texts"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// maxWebhookBody bounds webhook payloads.
const maxWebhookBody = 64 << 10

// Repos is the persistence the server needs.
type Repos interface {
	store.UserRepo
	store.PaymentRepo
	store.DedupRepo
	store.OutboxRepo
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	WebhookSecret string
	Clock         clock.Clock
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithWebhookSecret sets the HMAC secret for Tribute webhooks.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) {
		o.WebhookSecret = secret
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) {
		o.Clock = c
	}
}

// Server serves the webhook and health endpoints.
type Server struct {
	repos Repos
	texts *texts.Catalog
	opts  Opts
	http  *http.Server
}

// NewServer creates a server. Call Run to start listening.
func NewServer(repos Repos, catalog *texts.Catalog, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, Clock: clock.System}
	for _, opt := range opts {
		opt(&o)
	}
	if catalog == nil {
		catalog = texts.Default()
	}
	if o.WebhookSecret == "" {
		slog.Warn("api.NewServer: webhook secret not configured, all billing webhooks will be rejected")
	}
	s := &Server{repos: repos, texts: catalog, opts: o}
	s.http = &http.Server{
		Addr:              o.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the HTTP handler.
//
//	GET  /healthz          → health probe
//	POST /webhooks/tribute → billing webhook (HMAC-signed)
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogging)

	r.Get("/healthz", s.healthHandler)
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/tribute", s.tributeWebhookHandler)
	})
	return r
}

// Run listens until Shutdown is called.
func (s *Server) Run() error {
	slog.Info("DailyMentor API listening", "addr", s.opts.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()))
	})
}
