package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

var commitments = []string{"processed", "confirmed", "finalized"}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel    string
	MetricsAddr string
	ServerAddr  string

	// Optional backing services. Empty disables the component.
	DatabaseURL string
	NATSURL     string

	// Solana configuration
	SolanaRPCURLs     []string
	SolanaWSURL       string
	SolanaKeypairPath string

	// Submission configuration
	PreflightCommitment      string
	ConfirmationCommitment   string
	PriorityFeeMicroLamports uint64
	ConfirmPollInterval      time.Duration
	FetchTransactionLogs     bool

	// Await configuration
	AwaitTimeout time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}
	cfg.SolanaWSURL = os.Getenv("SOLANA_WS_URL")
	if cfg.SolanaWSURL == "" && len(cfg.SolanaRPCURLs) > 0 {
		cfg.SolanaWSURL = DeriveWSURL(cfg.SolanaRPCURLs[0])
	}
	cfg.SolanaKeypairPath = os.Getenv("SOLANA_KEYPAIR_PATH")

	// Submission configuration
	cfg.PreflightCommitment = getEnvOrDefault("PREFLIGHT_COMMITMENT", "processed")
	if !slices.Contains(commitments, cfg.PreflightCommitment) {
		errs = append(errs, fmt.Errorf("PREFLIGHT_COMMITMENT: invalid commitment %q", cfg.PreflightCommitment))
	}
	cfg.ConfirmationCommitment = getEnvOrDefault("CONFIRMATION_COMMITMENT", "processed")
	if !slices.Contains(commitments, cfg.ConfirmationCommitment) {
		errs = append(errs, fmt.Errorf("CONFIRMATION_COMMITMENT: invalid commitment %q", cfg.ConfirmationCommitment))
	}

	fee, err := parseUint64("PRIORITY_FEE_MICROLAMPORTS", 0)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriorityFeeMicroLamports = fee
	}

	pollInterval, err := parseDuration("CONFIRM_POLL_INTERVAL", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = pollInterval
	}

	fetchLogs, err := parseBool("FETCH_TRANSACTION_LOGS", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FetchTransactionLogs = fetchLogs
	}

	awaitTimeout, err := parseDuration("AWAIT_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.AwaitTimeout = awaitTimeout
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "ledgersync")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for worker initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.SolanaWSURL == "" {
		errs = append(errs, fmt.Errorf("SolanaWSURL is required"))
	}

	if !slices.Contains(commitments, c.PreflightCommitment) {
		errs = append(errs, fmt.Errorf("PreflightCommitment must be one of %v", commitments))
	}

	if !slices.Contains(commitments, c.ConfirmationCommitment) {
		errs = append(errs, fmt.Errorf("ConfirmationCommitment must be one of %v", commitments))
	}

	if c.ConfirmPollInterval < 50*time.Millisecond {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be at least 50ms"))
	}

	if c.AwaitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("AwaitTimeout must be positive"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// DeriveWSURL maps an http(s) RPC URL to the matching ws(s) URL.
func DeriveWSURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	default:
		return rpcURL
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseUint64 parses an unsigned integer from an environment variable or uses a default.
func parseUint64(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
