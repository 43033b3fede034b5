package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ledgersync",
		Usage: "Submit Solana transactions and wait for account state",
		Description: `A command-line tool for the ledgersync client core.

Use this CLI to encode and decode on-chain decimals, inspect and await accounts,
submit transactions, browse the submission journal, and start workflows.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			decimalCommands(),
			accountCommands(),
			txCommands(),
			historyCommands(),
			workflowCommands(),
			eventsCommands(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint(s); one is picked at random",
				EnvVars: []string{"SOLANA_RPC_URLS"},
				Value:   cli.NewStringSlice("https://api.devnet.solana.com"),
			},
			&cli.StringFlag{
				Name:    "ws-url",
				Usage:   "Solana websocket endpoint (derived from the RPC URL when empty)",
				EnvVars: []string{"SOLANA_WS_URL"},
			},
			&cli.StringFlag{
				Name:    "keypair",
				Usage:   "Path to a solana-keygen JSON keypair used as fee payer",
				EnvVars: []string{"SOLANA_KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "ledgersync",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "ledgersync HTTP server URL",
				EnvVars: []string{"LEDGERSYNC_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
