// Package main provides the entry point for the backtesting API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/strategy-backtester/internal/api"
	"github.com/atlas-desktop/strategy-backtester/internal/backtester"
	"github.com/atlas-desktop/strategy-backtester/internal/config"
	"github.com/atlas-desktop/strategy-backtester/internal/data"
	"github.com/atlas-desktop/strategy-backtester/internal/metrics"
	"github.com/atlas-desktop/strategy-backtester/internal/repository"
	"github.com/atlas-desktop/strategy-backtester/internal/strategy"
	"github.com/atlas-desktop/strategy-backtester/internal/workers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Config file (yaml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting strategy backtester",
		zap.String("addr", cfg.Addr()),
		zap.String("dataDir", cfg.Data.DataDir),
		zap.String("sqlite", cfg.Data.SQLitePath),
		zap.Int("workers", cfg.Engine.Workers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := data.NewStore(logger, cfg.Data.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	repo, err := repository.Open(logger, cfg.Data.SQLitePath)
	if err != nil {
		logger.Fatal("Failed to open result database", zap.Error(err))
	}
	defer repo.Close()

	pool := workers.NewPool(logger, &workers.PoolConfig{
		Name:            "backtests",
		NumWorkers:      cfg.Engine.Workers,
		QueueSize:       256,
		ShutdownTimeout: 10 * time.Second,
	})
	pool.Start()

	hub := api.NewHub(logger)
	m := metrics.New()
	hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }
	go hub.Run(ctx)

	runner := backtester.NewRunner(logger, backtester.NewEngine(logger), store, repo, repo)
	runner.SetPool(pool)
	runner.SetObserver(backtester.Observers{m, hub})
	runner.SetProgressHandler(hub.BroadcastProgress, cfg.Engine.ProgressInterval)

	templates := strategy.NewRegistry(logger)
	logger.Info("Registered strategy templates", zap.Strings("templates", templates.List()))

	server := api.NewServer(logger, &cfg.Server, api.Deps{
		Store:      store,
		Repository: repo,
		Runner:     runner,
		Templates:  templates,
		Hub:        hub,
		Metrics:    m,
		Defaults:   cfg.Engine,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	cancel()

	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// setupLogger builds a console logger; unknown levels fall back to info
func setupLogger(level string) *zap.Logger {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "time"
	encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeDuration = zapcore.StringDurationEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    encoder,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
