package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"pulsefeed/internal/bot"
	"pulsefeed/internal/config"
	"pulsefeed/internal/credit"
	"pulsefeed/internal/notify"
	"pulsefeed/internal/scheduler"
	"pulsefeed/internal/search"
	"pulsefeed/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	gate := credit.NewGate(store)

	b, err := bot.New(cfg.TelegramBotToken, store, gate, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	notifier := notify.New(b.API(), store, log)
	queue := notify.NewQueue(notifier, log, cfg.NotifyQueue, cfg.NotifyWorkers)

	client := search.NewClient(http.DefaultClient, cfg.TwitterAPIKey)
	adapter := search.NewAdapter(client, 5)

	sched := scheduler.New(store, adapter, gate, queue, log, scheduler.Options{
		Workers:                cfg.RuleWorkers,
		MinCheckInterval:       cfg.MinCheckInterval,
		FirstRunLookback:       cfg.FirstRunLookback,
		CheckTimeout:           cfg.CheckTimeout,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	})
	sched.SetAlerter(notifier)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting monitor", "tick", cfg.TickInterval.String(), "workers", cfg.RuleWorkers)

	queue.Start(ctx)

	ticker := cron.New()
	if _, err := ticker.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), func() {
		sched.RunTick(ctx, time.Now().UTC())
	}); err != nil {
		log.Error("schedule tick", "error", err)
		os.Exit(1)
	}
	ticker.Start()

	// First tick without waiting a full interval.
	go sched.RunTick(ctx, time.Now().UTC())

	b.Run(ctx)

	<-ticker.Stop().Done()
	queue.Wait()

	log.Info("monitor stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
