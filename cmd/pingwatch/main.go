// Ping Watch server: HTTP API, clip-processing worker pool, and the
// Telegram notification linker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ping-watch/pingwatch/pkg/api"
	"github.com/ping-watch/pingwatch/pkg/blob"
	"github.com/ping-watch/pingwatch/pkg/config"
	"github.com/ping-watch/pingwatch/pkg/database"
	"github.com/ping-watch/pingwatch/pkg/inference"
	"github.com/ping-watch/pingwatch/pkg/notify"
	"github.com/ping-watch/pingwatch/pkg/queue"
	"github.com/ping-watch/pingwatch/pkg/store"
	"github.com/ping-watch/pingwatch/pkg/telegram"
	"github.com/ping-watch/pingwatch/pkg/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dsn)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.Pool())

	gateway, err := blob.NewGateway(cfg.Blob, cfg.Server.PublicBaseURL)
	if err != nil {
		slog.Error("Failed to initialize blob gateway", "error", err)
		os.Exit(1)
	}

	broker, err := queue.NewRedisQueue(cfg.Queue.URL, cfg.Queue.Name)
	if err != nil {
		slog.Error("Failed to connect to job broker", "error", err)
		os.Exit(1)
	}
	defer broker.Close() //nolint:errcheck

	primary := inference.NewOpenAIProvider("primary",
		cfg.Inference.PrimaryAPIKey, cfg.Inference.PrimaryBaseURL, cfg.Inference.PrimaryModel)
	var fallback inference.Provider
	if cfg.Inference.FallbackAPIKey != "" {
		fallback = inference.NewOpenAIProvider("fallback",
			cfg.Inference.FallbackAPIKey, cfg.Inference.FallbackBaseURL, cfg.Inference.FallbackModel)
	}
	router := inference.NewRouter(primary, fallback)

	dispatcher := notify.NewDispatcher(cfg.Notify, cfg.Telegram, cfg.Server.PublicBaseURL)
	processor := worker.NewProcessor(cfg, gateway, router, dispatcher)

	// Workers start before the HTTP server so finalize never enqueues into
	// a broker nobody is draining.
	pool := queue.NewWorkerPool(broker, processor, cfg.Queue.WorkerCount)
	pool.Start(ctx)

	var tg api.TelegramAPI
	if cfg.Telegram.BotToken != "" {
		tg = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.APIBase, cfg.Notify.Timeout)
		slog.Info("Telegram client initialized")
	} else {
		slog.Info("Telegram bot token not set, linker endpoints report not_configured")
	}

	server := api.NewServer(cfg, st, broker, gateway, tg)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Ping Watch started", "workers", cfg.Queue.WorkerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Workers first: in-flight clips get their shutdown budget, then the
	// HTTP server drains on its own.
	workerCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerCtx.Done():
		slog.Warn("Worker shutdown timeout exceeded, in-flight clips stay processing")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
