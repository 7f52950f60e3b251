package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/promptsheet/promptsheet/internal/async"
	"github.com/promptsheet/promptsheet/internal/batch"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/dispatch"
	"github.com/promptsheet/promptsheet/internal/jobstore"
	"github.com/promptsheet/promptsheet/internal/llm/anthropic"
	"github.com/promptsheet/promptsheet/internal/server"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("opening job store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	anthropicClient := anthropic.NewClient(anthropic.Config{
		APIKey:  cfg.Anthropic.APIKey,
		BaseURL: cfg.Anthropic.BaseURL,
		Model:   cfg.Anthropic.Model,
		Timeout: cfg.Anthropic.Timeout,
	}, logger)

	dispatcher := dispatch.FromConfig(cfg, anthropicClient, logger)
	coordinator := batch.NewCoordinator(store, anthropicClient, logger)
	runner := async.NewRunner(coordinator, logger)

	srv := server.NewServer(cfg.Server, store, coordinator, runner, dispatcher, logger)
	httpSrv := srv.HTTPServer()

	go func() {
		logger.Info("http serving", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	runner.Shutdown(shutdownCtx)
	logger.Info("bye")
}

func openStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (jobstore.Store, error) {
	if cfg.Database.DSN != "" {
		return jobstore.OpenPostgres(ctx, jobstore.PostgresConfig{
			DSN:              cfg.Database.DSN,
			MaxConns:         cfg.Database.MaxConns,
			MinConns:         cfg.Database.MinConns,
			MaxConnLifetime:  cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
			DialTimeout:      cfg.Database.DialTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, logger)
	}
	return jobstore.OpenSQLite(ctx, cfg.Database.SQLitePath, logger)
}
