// Package main provides the entry point for the signal engine server:
// strategy backtests, multi-strategy comparisons and live signals over
// HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/signal-engine/internal/api"
	"github.com/atlas-desktop/signal-engine/internal/backtester"
	"github.com/atlas-desktop/signal-engine/internal/config"
	"github.com/atlas-desktop/signal-engine/internal/data"
	"github.com/atlas-desktop/signal-engine/internal/events"
	"github.com/atlas-desktop/signal-engine/internal/history"
	"github.com/atlas-desktop/signal-engine/internal/sentiment"
	"github.com/atlas-desktop/signal-engine/internal/signals"
	"github.com/atlas-desktop/signal-engine/internal/workers"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("Starting signal engine",
		zap.String("addr", cfg.Addr()),
		zap.String("dataDir", cfg.Storage.DataDir),
		zap.String("sentiment", cfg.Sentiment.Provider),
		zap.Int("workers", cfg.Engine.Workers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore, err := data.NewStore(logger, cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	var provider sentiment.Provider
	if cfg.Sentiment.Provider == "newsapi" {
		provider = sentiment.NewNewsAPI(logger, cfg.Sentiment.NewsAPI)
	}
	resolver := sentiment.NewResolver(logger, provider, cfg.Sentiment.ResolveTimeout)

	poolConfig := workers.DefaultPoolConfig("engine")
	poolConfig.NumWorkers = cfg.Engine.Workers
	pool := workers.NewPool(logger, poolConfig)
	pool.Start()

	service := backtester.NewService(logger, cfg.Engine.Backtest, cfg.Strategies, resolver)
	comparator := backtester.NewComparator(logger, service, pool)
	scorer := signals.NewScorer(logger, cfg.Scoring, cfg.Strategies, cfg.Engine.Backtest.Simulator.Indicators, resolver)
	scanner := signals.NewScanner(logger, scorer, pool)

	signalHistory := openHistory(ctx, logger, cfg.Storage.History)

	bus := events.NewBus(logger, cfg.Events)
	var sink *events.KafkaSink
	if cfg.Kafka.Enabled() {
		sink = events.NewKafkaSink(logger, cfg.Kafka)
		bus.SubscribeAll(sink.Handle)
		logger.Info("Publishing events to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	server := api.NewServer(logger, cfg.Server, api.Dependencies{
		Backtests:  service,
		Comparator: comparator,
		Scorer:     scorer,
		Scanner:    scanner,
		Store:      dataStore,
		History:    signalHistory,
		Bus:        bus,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("Server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("Server started successfully",
		zap.String("ws", fmt.Sprintf("ws://%s%s", cfg.Addr(), cfg.Server.WebSocketPath)),
		zap.String("http", fmt.Sprintf("http://%s/api/v1", cfg.Addr())),
	)

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	bus.Close()
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Error("Error closing Kafka writer", zap.Error(err))
		}
	}
	if signalHistory != nil {
		if err := signalHistory.Close(); err != nil {
			logger.Error("Error closing signal history", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}

// openHistory opens the signal history and drops entries past retention.
// History is optional: on failure the server runs without it.
func openHistory(ctx context.Context, logger *zap.Logger, cfg history.Config) *history.Store {
	if cfg.Driver == history.DriverSQLite && cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			logger.Warn("Signal history disabled", zap.Error(err))
			return nil
		}
	}

	store, err := history.Open(logger, cfg)
	if err != nil {
		logger.Warn("Signal history disabled", zap.Error(err))
		return nil
	}

	if cfg.Retention > 0 {
		removed, err := store.Prune(ctx, time.Now().Add(-cfg.Retention))
		if err != nil {
			logger.Warn("Failed to prune signal history", zap.Error(err))
		} else if removed > 0 {
			logger.Info("Pruned signal history", zap.Int64("removed", removed))
		}
	}
	return store
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
