// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TwitterAPIKey    string
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string

	TickInterval     time.Duration // how often the due-rule scan runs
	MinCheckInterval time.Duration // lower bound on a rule's own interval
	FirstRunLookback time.Duration // search window for a rule's first check
	CheckTimeout     time.Duration // wall-clock ceiling per rule check

	RuleWorkers   int // concurrent rule checks per tick
	NotifyWorkers int // notification dispatch workers
	NotifyQueue   int // pending notification buffer size

	MaxConsecutiveFailures int // transient failures before deactivation
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	apiKey := os.Getenv("TWITTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("TWITTER_API_KEY is required")
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/monitor.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	cfg := &Config{
		TwitterAPIKey:          apiKey,
		TelegramBotToken:       token,
		DatabasePath:           dbPath,
		LogLevel:               logLevel,
		TickInterval:           time.Minute,
		MinCheckInterval:       time.Minute,
		FirstRunLookback:       time.Hour,
		CheckTimeout:           2 * time.Minute,
		RuleWorkers:            10,
		NotifyWorkers:          4,
		NotifyQueue:            256,
		MaxConsecutiveFailures: 3,
	}

	var err error
	if cfg.TickInterval, err = durationEnv("TICK_INTERVAL", cfg.TickInterval); err != nil {
		return nil, err
	}
	if cfg.MinCheckInterval, err = durationEnv("MIN_CHECK_INTERVAL", cfg.MinCheckInterval); err != nil {
		return nil, err
	}
	if cfg.FirstRunLookback, err = durationEnv("FIRST_RUN_LOOKBACK", cfg.FirstRunLookback); err != nil {
		return nil, err
	}
	if cfg.CheckTimeout, err = durationEnv("CHECK_TIMEOUT", cfg.CheckTimeout); err != nil {
		return nil, err
	}
	if cfg.RuleWorkers, err = intEnv("RULE_WORKERS", cfg.RuleWorkers); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers, err = intEnv("NOTIFY_WORKERS", cfg.NotifyWorkers); err != nil {
		return nil, err
	}
	if cfg.NotifyQueue, err = intEnv("NOTIFY_QUEUE", cfg.NotifyQueue); err != nil {
		return nil, err
	}
	if cfg.MaxConsecutiveFailures, err = intEnv("MAX_CONSECUTIVE_FAILURES", cfg.MaxConsecutiveFailures); err != nil {
		return nil, err
	}

	if cfg.RuleWorkers < 1 {
		return nil, fmt.Errorf("RULE_WORKERS must be at least 1")
	}
	if cfg.NotifyWorkers < 1 {
		return nil, fmt.Errorf("NOTIFY_WORKERS must be at least 1")
	}
	if cfg.MaxConsecutiveFailures < 1 {
		return nil, fmt.Errorf("MAX_CONSECUTIVE_FAILURES must be at least 1")
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q in %s: %w", raw, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q in %s: %w", raw, key, err)
	}
	return n, nil
}
