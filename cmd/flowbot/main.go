package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avetra/flowbot/internal/chain"
	"github.com/avetra/flowbot/internal/engine"
	"github.com/avetra/flowbot/internal/logging"
	"github.com/avetra/flowbot/internal/market"
	"github.com/avetra/flowbot/internal/metrics"
	"github.com/avetra/flowbot/internal/notify"
	"github.com/avetra/flowbot/internal/scheduler"
	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/internal/trigger"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "add":
			runAdd(os.Args[2:])
			return
		case "remind":
			runRemind(os.Args[2:])
			return
		case "serve":
			// fall through to the daemon below
		default:
			usage()
			os.Exit(2)
		}
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("flowbot exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage() {
	os.Stderr.WriteString(`usage: flowbot [command]

commands:
  serve    run the scheduler daemon (default)
  add      validate and store a workflow from a JSON file
  remind   schedule a one-shot or recurring message
`)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("store ready", slog.String("db_path", cfg.DBPath))

	// Owner notifications go to Telegram when a token is configured,
	// otherwise to the log (useful for local development).
	var notifier notify.Notifier
	if cfg.TelegramToken != "" {
		notifier = notify.NewTelegramNotifier(cfg.TelegramToken, "")
	} else {
		notifier = notify.NewLogNotifier(logger)
		logger.Warn("no telegram token configured, notifications go to the log")
	}

	quotes := market.NewHTTPQuoteSource(cfg.QuoteBaseURL)

	registry, err := newRegistry(notifier, quotes)
	if err != nil {
		return err
	}

	executor := engine.NewExecutor(registry, logger)
	runner := engine.NewRunner(executor, st, notifier, logger)
	pool := engine.NewWorkerPool(cfg.PoolSize, logger)

	evaluator := trigger.NewEvaluator(quotes, logger)
	evaluator.RegisterEventSource(chain.EventWhaleTransfer,
		chain.NewIndexerSource(cfg.IndexerBaseURL, st, logger))

	tick := time.Duration(cfg.TickSeconds) * time.Second
	workflows := scheduler.NewWorkflowScheduler(st, evaluator, runner, pool, notifier, tick, logger)
	messages := scheduler.NewMessageDispatcher(st, notifier, tick, logger)

	if err := workflows.Start(ctx); err != nil {
		return err
	}
	if err := messages.Start(ctx); err != nil {
		workflows.Stop()
		return err
	}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, st, logger)
	metricsSrv.Start()

	logger.Info("flowbot running",
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.Duration("tick", tick),
		slog.Int("pool_size", cfg.PoolSize),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	workflows.Stop()
	messages.Stop()
	pool.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("flowbot stopped")
	return nil
}
