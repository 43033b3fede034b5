package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"LOG_LEVEL", "METRICS_ADDR", "SERVER_ADDR", "DATABASE_URL", "NATS_URL",
		"SOLANA_RPC_URLS", "SOLANA_WS_URL", "SOLANA_KEYPAIR_PATH",
		"PREFLIGHT_COMMITMENT", "CONFIRMATION_COMMITMENT", "PRIORITY_FEE_MICROLAMPORTS",
		"CONFIRM_POLL_INTERVAL", "FETCH_TRANSACTION_LOGS", "AWAIT_TIMEOUT",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_RPC_URLS", "https://api.devnet.solana.com, https://rpc.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, []string{"https://api.devnet.solana.com", "https://rpc.example.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, "wss://api.devnet.solana.com", cfg.SolanaWSURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "processed", cfg.PreflightCommitment)
	assert.Equal(t, "processed", cfg.ConfirmationCommitment)
	assert.Equal(t, uint64(0), cfg.PriorityFeeMicroLamports)
	assert.Equal(t, 500*time.Millisecond, cfg.ConfirmPollInterval)
	assert.Equal(t, 60*time.Second, cfg.AwaitTimeout)
	assert.False(t, cfg.FetchTransactionLogs)
	assert.Equal(t, "ledgersync", cfg.TemporalTaskQueue)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_RPC_URLS", "http://localhost:8899")
	t.Setenv("SOLANA_WS_URL", "ws://localhost:8900")
	t.Setenv("CONFIRMATION_COMMITMENT", "finalized")
	t.Setenv("PRIORITY_FEE_MICROLAMPORTS", "25000")
	t.Setenv("CONFIRM_POLL_INTERVAL", "2s")
	t.Setenv("FETCH_TRANSACTION_LOGS", "true")
	t.Setenv("AWAIT_TIMEOUT", "5m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8900", cfg.SolanaWSURL)
	assert.Equal(t, "finalized", cfg.ConfirmationCommitment)
	assert.Equal(t, uint64(25000), cfg.PriorityFeeMicroLamports)
	assert.Equal(t, 2*time.Second, cfg.ConfirmPollInterval)
	assert.True(t, cfg.FetchTransactionLogs)
	assert.Equal(t, 5*time.Minute, cfg.AwaitTimeout)
}

func TestLoad_MissingRPCURLs(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URLS is required")
}

func TestLoad_AccumulatesErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_RPC_URLS", "http://localhost:8899")
	t.Setenv("CONFIRMATION_COMMITMENT", "recent")
	t.Setenv("PRIORITY_FEE_MICROLAMPORTS", "-1")
	t.Setenv("AWAIT_TIMEOUT", "soon")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "CONFIRMATION_COMMITMENT")
	assert.Contains(t, err.Error(), "PRIORITY_FEE_MICROLAMPORTS")
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate(t *testing.T) {
	valid := Config{
		SolanaRPCURLs:          []string{"http://localhost:8899"},
		SolanaWSURL:            "ws://localhost:8900",
		PreflightCommitment:    "processed",
		ConfirmationCommitment: "confirmed",
		ConfirmPollInterval:    time.Second,
		AwaitTimeout:           time.Minute,
		TemporalHost:           "localhost:7233",
		TemporalNamespace:      "default",
		TemporalTaskQueue:      "ledgersync",
	}
	require.NoError(t, valid.Validate())

	tooFast := valid
	tooFast.ConfirmPollInterval = time.Millisecond
	assert.ErrorContains(t, tooFast.Validate(), "ConfirmPollInterval")

	noTimeout := valid
	noTimeout.AwaitTimeout = 0
	assert.ErrorContains(t, noTimeout.Validate(), "AwaitTimeout")
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "wss://api.mainnet-beta.solana.com", DeriveWSURL("https://api.mainnet-beta.solana.com"))
	assert.Equal(t, "ws://127.0.0.1:8899", DeriveWSURL("http://127.0.0.1:8899"))
	assert.Equal(t, "ws://already", DeriveWSURL("ws://already"))
}
