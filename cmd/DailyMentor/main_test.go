package main

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configKeys = []string{
	"CONFIG_PATH", "TELEGRAM_BOT_TOKEN", "TELEGRAM_API_URL", "OPENAI_API_KEY", "OPENAI_MODEL",
	"OPENAI_BASE_URL", "OPENAI_TIMEOUT", "OPENAI_RETRIES", "GENAI_DEBUG", "DAILYMENTOR_STATE_DIR",
	"DATABASE_URL", "API_ADDR", "TRIBUTE_WEBHOOK_SECRET", "TRIBUTE_PRODUCT_BASE_URL", "TRIAL_DAYS",
	"FOCUS_TICK", "REMINDER_CRON", "LOG_LEVEL", "LOG_FORMAT",
}

// clearConfigEnv unsets every configuration key for the duration of the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		if old, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	config, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if config.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	if config.OpenAIModel != "gpt-4o-mini" || config.OpenAITimeout != 15*time.Second || config.OpenAIRetries != 3 {
		t.Errorf("OpenAI defaults = %q %s %d", config.OpenAIModel, config.OpenAITimeout, config.OpenAIRetries)
	}
	if config.APIAddr != ":8080" || config.TrialDays != 3 || config.FocusTick != time.Second {
		t.Errorf("defaults = %q %d %s", config.APIAddr, config.TrialDays, config.FocusTick)
	}
	if config.ReminderCron != "* * * * *" {
		t.Errorf("ReminderCron = %q", config.ReminderCron)
	}
}

func TestLoadConfigRequiresToken(t *testing.T) {
	clearConfigEnv(t)
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error without TELEGRAM_BOT_TOKEN")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "telegram_token: \"1:file\"\ntrial_days: 7\napi_addr: \":9090\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	config, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if config.TelegramToken != "1:file" || config.TrialDays != 7 || config.APIAddr != ":9090" {
		t.Errorf("config from file = %+v", config)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{TelegramToken: "x", TrialDays: 3, FocusTick: time.Second, OpenAIRetries: 3}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := map[string]func(c *Config){
		"negative trial": func(c *Config) { c.TrialDays = -1 },
		"zero tick":      func(c *Config) { c.FocusTick = 0 },
		"bad format":     func(c *Config) { c.LogFormat = "xml" },
		"bad retries":    func(c *Config) { c.OpenAIRetries = -2 },
	}
	for name, mutate := range tests {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseCommandLineFlagsDefaultsDSNToStateDir(t *testing.T) {
	config := Config{StateDir: "/tmp/dm", APIAddr: ":8080"}

	flags, err := parseCommandLineFlags(newFlagSet(), []string{"-state-dir", "/srv/dm"}, config)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("/srv/dm", DefaultDBFileName); *flags.dbDSN != want {
		t.Errorf("dbDSN = %q, want %q", *flags.dbDSN, want)
	}
	if opts := buildStoreOptions(flags); len(opts) != 1 {
		t.Errorf("expected one store option, got %d", len(opts))
	}
}

func TestParseCommandLineFlagsPrefersDatabaseURL(t *testing.T) {
	config := Config{StateDir: "/tmp/dm", DatabaseURL: "postgres://u:p@localhost/dm"}

	flags, err := parseCommandLineFlags(newFlagSet(), nil, config)
	if err != nil {
		t.Fatal(err)
	}
	if *flags.dbDSN != config.DatabaseURL {
		t.Errorf("dbDSN = %q", *flags.dbDSN)
	}

	flags, err = parseCommandLineFlags(newFlagSet(), []string{"-db-dsn", "/data/x.db"}, config)
	if err != nil {
		t.Fatal(err)
	}
	if *flags.dbDSN != "/data/x.db" {
		t.Errorf("explicit -db-dsn ignored: %q", *flags.dbDSN)
	}
}

func TestParseCommandLineFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseCommandLineFlags(newFlagSet(), []string{"-nope"}, Config{}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestBuildOptions(t *testing.T) {
	config := Config{TributeSecret: "s", PaymentURL: "https://pay", TrialDays: 3, OpenAIBaseURL: "http://llm"}
	flags, err := parseCommandLineFlags(newFlagSet(), []string{"-openai-api-key", "k", "-api-addr", ":1"}, config)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(buildAPIOptions(config, flags)); n != 2 {
		t.Errorf("api options = %d, want 2", n)
	}
	if n := len(buildRouterOptions(config)); n != 2 {
		t.Errorf("router options = %d, want 2", n)
	}
	if n := len(buildGenAIOptions(config, flags)); n != 6 {
		t.Errorf("genai options = %d, want 6", n)
	}
	if n := len(buildMessagingOptions(config)); n != 0 {
		t.Errorf("messaging options = %d, want 0", n)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
