package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/ledgersync/service/config"
	"github.com/brojonat/ledgersync/service/db"
	"github.com/brojonat/ledgersync/service/metrics"
	natspkg "github.com/brojonat/ledgersync/service/nats"
	"github.com/brojonat/ledgersync/service/solana"
	"github.com/brojonat/ledgersync/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SolanaKeypairPath == "" {
		logger.Error("SOLANA_KEYPAIR_PATH is required to run the worker")
		os.Exit(1)
	}
	key, err := solanago.PrivateKeyFromSolanaKeygenFile(cfg.SolanaKeypairPath)
	if err != nil {
		logger.Error("failed to load fee payer keypair", "path", cfg.SolanaKeypairPath, "error", err)
		os.Exit(1)
	}
	payer := solana.LocalPayer(key)

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select RPC endpoint", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(
		solana.NewRPCClient(endpoint),
		extractEndpointFromURL(endpoint),
		metricsCollector,
		logger,
	)
	logger.Info("initialized solana RPC client",
		"endpoint", extractEndpointFromURL(endpoint),
		"total_endpoints", len(cfg.SolanaRPCURLs),
	)

	subscriber, err := solana.DialSubscriber(ctx, cfg.SolanaWSURL)
	if err != nil {
		logger.Error("failed to connect to solana websocket", "error", err)
		os.Exit(1)
	}
	defer subscriber.Close()

	// Both commitments were validated by config.Load.
	preflight, _ := solana.ParseCommitment(cfg.PreflightCommitment)
	confirmation, _ := solana.ParseCommitment(cfg.ConfirmationCommitment)

	submitter := solana.NewSubmitter(solanaClient, logger,
		solana.WithMetrics(metricsCollector),
		solana.WithPollInterval(cfg.ConfirmPollInterval),
		solana.WithDiagnostics(solana.Diagnostics{FetchLogs: cfg.FetchTransactionLogs}),
		solana.WithDefaults(solana.SubmitOptions{
			PriorityFee:            cfg.PriorityFeeMicroLamports,
			PreflightCommitment:    preflight,
			ConfirmationCommitment: confirmation,
		}),
	)
	awaiter := solana.NewAwaiter(subscriber, cfg.AwaitTimeout, metricsCollector, logger,
		solana.WithAccountLookup(solanaClient),
	)

	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Submitter:         submitter,
		Awaiter:           awaiter,
		Payer:             payer,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	// The journal and event stream are optional. Interfaces are only set
	// when the backing service is configured so they stay untyped nil.
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
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate journal", "error", err)
			os.Exit(1)
		}
		workerConfig.Store = store
		logger.Info("connected to database, submission journal enabled")
	}

	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		workerConfig.Publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"payer", payer.PublicKey().String(),
		"confirmation_commitment", string(confirmation),
		"journal", cfg.DatabaseURL != "",
		"events", cfg.NATSURL != "",
	)

	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("shutdown complete")
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

// extractEndpointFromURL extracts a short identifier from the Solana RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
func extractEndpointFromURL(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}

	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	if strings.Contains(host, "quicknode") {
		return "quiknode"
	}

	for _, cluster := range []string{"mainnet", "devnet", "testnet", "localhost", "127.0.0.1"} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}

	return host
}
