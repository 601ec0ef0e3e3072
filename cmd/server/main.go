package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solsend/service/audit"
	"github.com/brojonat/solsend/service/config"
	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/guard"
	"github.com/brojonat/solsend/service/metrics"
	natspkg "github.com/brojonat/solsend/service/nats"
	"github.com/brojonat/solsend/service/server"
	"github.com/brojonat/solsend/service/solana"
	"github.com/brojonat/solsend/service/temporal"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/brojonat/solsend/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.SolanaNetwork,
		"wallet_mode", cfg.WalletMode(),
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	solanaClient := solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), cfg.SolanaNetwork, metricsCollector, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	session, err := wallet.FromConfig(cfg, solanaClient, logger)
	if err != nil {
		logger.Error("failed to open wallet", "error", err)
		os.Exit(1)
	}

	deps := server.Deps{
		Transferer: transfer.NewTransferer(metricsCollector, logger),
		Session:    session,
		Metrics:    metricsCollector,
	}

	var auditStore audit.Store
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		store := db.NewStore(dbPool, metricsCollector)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		deps.Store = store
		auditStore = store
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, transfer history disabled")
	}

	var publisher natspkg.Publisher
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	deps.Recorder = audit.NewRecorder(auditStore, publisher, logger)

	if cfg.RedisURL != "" {
		rdb, err := guard.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		deps.Guard = guard.NewRedisGuard(rdb, cfg.InflightTTL, logger)
		logger.Info("using redis in-flight guard", "ttl", cfg.InflightTTL)
	}

	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			// sync transfers do not need temporal
			logger.Warn("failed to create temporal client, async transfers disabled", "error", err)
		} else {
			defer temporalClient.Close()
			deps.Workflows = temporalClient
		}
	}

	httpServer := server.New(cfg, deps, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
