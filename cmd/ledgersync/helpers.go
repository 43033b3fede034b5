package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/ledgersync/service/config"
	"github.com/brojonat/ledgersync/service/db"
	"github.com/brojonat/ledgersync/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

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

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func cliLogger(c *cli.Context) *slog.Logger {
	return setupLogger(c.String("log-level"))
}

// newSolanaClient builds an RPC client on one of the configured endpoints.
func newSolanaClient(c *cli.Context, logger *slog.Logger) (*solana.Client, error) {
	endpoint, err := solana.SelectRandomEndpoint(c.StringSlice("rpc-url"))
	if err != nil {
		return nil, err
	}
	return solana.NewClient(solana.NewRPCClient(endpoint), endpoint, nil, logger), nil
}

// newAwaiter builds an awaiter over sub. When an RPC endpoint is configured it
// also checks the account's current state once subscribed.
func newAwaiter(c *cli.Context, sub solana.AccountSubscriber) *solana.Awaiter {
	logger := cliLogger(c)
	var opts []solana.AwaiterOption
	if len(c.StringSlice("rpc-url")) > 0 {
		client, err := newSolanaClient(c, logger)
		if err == nil {
			opts = append(opts, solana.WithAccountLookup(client))
		}
	}
	return solana.NewAwaiter(sub, c.Duration("timeout"), nil, logger, opts...)
}

// dialSubscriber opens the websocket used for account subscriptions.
func dialSubscriber(c *cli.Context) (*solana.WSSubscriber, error) {
	wsURL := c.String("ws-url")
	if wsURL == "" {
		urls := c.StringSlice("rpc-url")
		if len(urls) == 0 {
			return nil, fmt.Errorf("ws-url is required (set SOLANA_WS_URL or --ws-url)")
		}
		wsURL = config.DeriveWSURL(urls[0])
	}
	return solana.DialSubscriber(c.Context, wsURL)
}

// loadPayer reads the fee payer keypair.
func loadPayer(c *cli.Context) (solana.Payer, error) {
	path := c.String("keypair")
	if path == "" {
		return solana.Payer{}, fmt.Errorf("keypair is required (set SOLANA_KEYPAIR_PATH or --keypair)")
	}
	key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return solana.Payer{}, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	return solana.LocalPayer(key), nil
}

func parseCommitmentFlag(c *cli.Context, name string) (rpc.CommitmentType, error) {
	raw := c.String(name)
	commitment, ok := solana.ParseCommitment(raw)
	if !ok {
		return "", fmt.Errorf("invalid --%s %q: want processed, confirmed or finalized", name, raw)
	}
	return commitment, nil
}

func parseDecimalFields(raw []string) ([]solana.DecimalField, error) {
	fields := make([]solana.DecimalField, 0, len(raw))
	for _, r := range raw {
		f, err := solana.ParseDecimalField(r)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
