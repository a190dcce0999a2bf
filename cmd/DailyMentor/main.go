package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/DailyMentor/internal/api"
	"github.com/BTreeMap/DailyMentor/internal/clock"
	"github.com/BTreeMap/DailyMentor/internal/flow"
	"github.com/BTreeMap/DailyMentor/internal/focus"
	"github.com/BTreeMap/DailyMentor/internal/gate"
	"github.com/BTreeMap/DailyMentor/internal/genai"
	"github.com/BTreeMap/DailyMentor/internal/lockfile"
	"github.com/BTreeMap/DailyMentor/internal/messaging"
	"github.com/BTreeMap/DailyMentor/internal/recovery"
	"github.com/BTreeMap/DailyMentor/internal/router"
	"github.com/BTreeMap/DailyMentor/internal/scheduler"
	"github.com/BTreeMap/DailyMentor/internal/session"
	"github.com/BTreeMap/DailyMentor/internal/store"
	"github.com/BTreeMap/DailyMentor/internal/texts"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DailyMentor state data
	DefaultStateDir = "/var/lib/dailymentor"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "dailymentor.db"

	pollInterval    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	loadDotEnv()

	config, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	initializeLogger(config.LogLevel, config.LogFormat)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	slog.Info("Bootstrapping DailyMentor")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_type", store.DetectDSNType(*flags.dbDSN), "api_addr", *flags.apiAddr)
	if err := run(config, flags); err != nil {
		slog.Error("DailyMentor failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DailyMentor exited successfully")
}

// Config holds environment configuration
type Config struct {
	TelegramToken  string        `yaml:"telegram_token"   env:"TELEGRAM_BOT_TOKEN" env-required:"true"`
	TelegramAPIURL string        `yaml:"telegram_api_url" env:"TELEGRAM_API_URL"`
	OpenAIKey      string        `yaml:"openai_api_key"   env:"OPENAI_API_KEY"`
	OpenAIModel    string        `yaml:"openai_model"     env:"OPENAI_MODEL"       env-default:"gpt-4o-mini"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"  env:"OPENAI_BASE_URL"`
	OpenAITimeout  time.Duration `yaml:"openai_timeout"   env:"OPENAI_TIMEOUT"     env-default:"15s"`
	OpenAIRetries  int           `yaml:"openai_retries"   env:"OPENAI_RETRIES"     env-default:"3"`
	GenAIDebug     bool          `yaml:"genai_debug"      env:"GENAI_DEBUG"`
	StateDir       string        `yaml:"state_dir"        env:"DAILYMENTOR_STATE_DIR" env-default:"/var/lib/dailymentor"`
	DatabaseURL    string        `yaml:"database_url"     env:"DATABASE_URL"`
	APIAddr        string        `yaml:"api_addr"         env:"API_ADDR"           env-default:":8080"`
	TributeSecret  string        `yaml:"tribute_secret"   env:"TRIBUTE_WEBHOOK_SECRET"`
	PaymentURL     string        `yaml:"payment_url"      env:"TRIBUTE_PRODUCT_BASE_URL"`
	TrialDays      int           `yaml:"trial_days"       env:"TRIAL_DAYS"         env-default:"3"`
	FocusTick      time.Duration `yaml:"focus_tick"       env:"FOCUS_TICK"         env-default:"1s"`
	ReminderCron   string        `yaml:"reminder_cron"    env:"REMINDER_CRON"      env-default:"* * * * *"`
	LogLevel       string        `yaml:"log_level"        env:"LOG_LEVEL"`
	LogFormat      string        `yaml:"log_format"       env:"LOG_FORMAT"`
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.TrialDays < 0 {
		errs = append(errs, fmt.Errorf("TRIAL_DAYS must not be negative, got %d", c.TrialDays))
	}
	if c.FocusTick <= 0 {
		errs = append(errs, fmt.Errorf("FOCUS_TICK must be positive, got %s", c.FocusTick))
	}
	if c.OpenAIRetries < 0 {
		errs = append(errs, fmt.Errorf("OPENAI_RETRIES must not be negative, got %d", c.OpenAIRetries))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	apiAddr   *string
	openaiKey *string
}

// initializeLogger installs the default slog handler.
func initializeLogger(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
}

// loadConfig reads CONFIG_PATH YAML when set, then the environment, then defaults.
func loadConfig() (Config, error) {
	var config Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &config); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&config); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate: %w", err)
	}

	slog.Debug("configuration loaded",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DAILYMENTOR_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"TRIBUTE_WEBHOOK_SECRET_SET", config.TributeSecret != "",
		"REMINDER_CRON", config.ReminderCron)
	return config, nil
}

// defaultDSN is DATABASE_URL or a SQLite file in stateDir.
func defaultDSN(config Config, stateDir string) string {
	if config.DatabaseURL != "" {
		return config.DatabaseURL
	}
	return filepath.Join(stateDir, DefaultDBFileName)
}

// parseCommandLineFlags parses command line arguments with configuration defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:  fs.String("state-dir", config.StateDir, "state directory for DailyMentor data (overrides $DAILYMENTOR_STATE_DIR)"),
		dbDSN:     fs.String("db-dsn", "", "database DSN (overrides $DATABASE_URL; defaults to SQLite in the state directory)"),
		apiAddr:   fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		openaiKey: fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if *flags.dbDSN == "" {
		*flags.dbDSN = defaultDSN(config, *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_type", store.DetectDSNType(*flags.dbDSN),
		"apiAddr", *flags.apiAddr,
		"openaiKeySet", *flags.openaiKey != "")
	return flags, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(*flags.dbDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return []store.Option{store.WithSQLiteDSN(*flags.dbDSN)}
}

func openStore(flags Flags) (store.DurableStore, error) {
	opts := buildStoreOptions(flags)
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	opts := []genai.Option{
		genai.WithModel(config.OpenAIModel),
		genai.WithTimeout(config.OpenAITimeout),
		genai.WithRetries(config.OpenAIRetries),
		genai.WithDebugMode(config.GenAIDebug, *flags.stateDir),
	}
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	return opts
}

// buildMessagingOptions constructs Telegram transport options
func buildMessagingOptions(config Config) []messaging.Option {
	var opts []messaging.Option
	if config.TelegramAPIURL != "" {
		opts = append(opts, messaging.WithAPIURL(config.TelegramAPIURL))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	if config.TributeSecret != "" {
		opts = append(opts, api.WithWebhookSecret(config.TributeSecret))
	}
	return opts
}

// buildRouterOptions constructs router options
func buildRouterOptions(config Config) []router.Option {
	opts := []router.Option{router.WithTrial(time.Duration(config.TrialDays) * 24 * time.Hour)}
	if config.PaymentURL != "" {
		opts = append(opts, router.WithPaymentURL(config.PaymentURL))
	}
	return opts
}

// buildFocusOptions constructs focus engine options
func buildFocusOptions(config Config, catalog *texts.Catalog) []focus.Option {
	return []focus.Option{focus.WithTickInterval(config.FocusTick), focus.WithTexts(catalog)}
}

// newGenerator returns nil when no client can be built; flows then use fallback text.
func newGenerator(config Config, flags Flags) genai.Generator {
	client, err := genai.NewClient(buildGenAIOptions(config, flags)...)
	if err != nil {
		slog.Warn("GenAI disabled, using fallback texts", "error", err)
		return nil
	}
	return client
}

func run(config Config, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	clk := clock.System
	catalog := texts.Default()
	sessions := session.NewManager(st, session.WithClock(clk))
	defer sessions.Close()

	tg, err := messaging.NewTelegramService(config.TelegramToken, buildMessagingOptions(config)...)
	if err != nil {
		return fmt.Errorf("create telegram transport: %w", err)
	}

	llm := newGenerator(config, flags)
	g := gate.New(st, clk)
	timers := focus.NewEngine(sessions, st, st, tg, append(buildFocusOptions(config, catalog), focus.WithClock(clk))...)
	defer timers.Close()

	flows := flow.NewEngine(flow.Deps{
		Store:    st,
		Sessions: sessions,
		LLM:      llm,
		Texts:    catalog,
		Gate:     g,
		Focus:    timers,
		Clock:    clk,
		Trial:    time.Duration(config.TrialDays) * 24 * time.Hour,
	})
	rt := router.New(router.Deps{
		Store:    st,
		Dedup:    st,
		Sessions: sessions,
		Flows:    flows,
		Focus:    timers,
		Gate:     g,
		LLM:      llm,
		Texts:    catalog,
		Sender:   tg,
		Clock:    clk,
	}, buildRouterOptions(config)...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs := store.NewJobRunner(st, pollInterval, store.WithJobClock(clk))
	scheduler.RegisterReminderHandlers(jobs, rt)
	outbox := store.NewOutboxSender(st, messaging.OutboxDelivery(tg), pollInterval)

	rec := recovery.NewManager()
	rec.Register("focus", recovery.Func(timers.Recover))
	rec.Register("jobs", recovery.Func(jobs.RecoverStaleJobs))
	rec.Register("outbox", recovery.Func(outbox.RecoverStaleMessages))
	if err := rec.RecoverAll(ctx); err != nil {
		slog.Error("Startup recovery incomplete", "error", err)
	}

	sched := scheduler.NewScheduler()
	planner := scheduler.NewReminderPlanner(st, st, clk)
	if err := sched.AddJob(config.ReminderCron, planner.Run(ctx)); err != nil {
		return fmt.Errorf("schedule reminders %q: %w", config.ReminderCron, err)
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		jobs.Run(workersCtx)
	}()
	go func() {
		defer workers.Done()
		outbox.Run(workersCtx)
	}()

	srv := api.NewServer(st, catalog, append(buildAPIOptions(config, flags), api.WithClock(clk))...)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Run()
	}()

	if err := tg.Start(ctx, rt.Handle); err != nil {
		return fmt.Errorf("start telegram transport: %w", err)
	}
	sched.Start()
	slog.Info("DailyMentor running")

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			runErr = fmt.Errorf("api server: %w", err)
		}
	}

	if err := tg.Stop(); err != nil {
		slog.Warn("Telegram transport stop failed", "error", err)
	}
	sched.Stop()
	stopWorkers()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API server shutdown failed", "error", err)
	}
	// Remaining teardown (focus tickers, sessions, store, lock) runs through defers in reverse order.
	return runErr
}
