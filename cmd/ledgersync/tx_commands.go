package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/brojonat/ledgersync/service/solana"
	"github.com/brojonat/ledgersync/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func txCommands() *cli.Command {
	return &cli.Command{
		Name:  "tx",
		Usage: "Submit transactions directly from the CLI",
		Subcommands: []*cli.Command{
			memoCommand(),
		},
	}
}

func submitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:    "priority-fee",
			Usage:   "Compute unit price in micro-lamports",
			EnvVars: []string{"PRIORITY_FEE_MICROLAMPORTS"},
		},
		&cli.StringFlag{
			Name:    "commitment",
			Usage:   "Confirmation commitment (processed, confirmed, finalized)",
			EnvVars: []string{"CONFIRMATION_COMMITMENT"},
			Value:   "confirmed",
		},
		&cli.BoolFlag{
			Name:  "preflight",
			Usage: "Simulate the transaction before broadcasting",
		},
	}
}

func memoCommand() *cli.Command {
	return &cli.Command{
		Name:      "memo",
		Usage:     "Write a memo on chain and wait for confirmation",
		ArgsUsage: "<text>",
		Flags: append(submitFlags(),
			&cli.BoolFlag{
				Name:    "fetch-logs",
				Usage:   "Attach program logs to failed transactions",
				EnvVars: []string{"FETCH_TRANSACTION_LOGS"},
			},
		),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: memo text")
			}

			payer, err := loadPayer(c)
			if err != nil {
				return err
			}
			commitment, err := parseCommitmentFlag(c, "commitment")
			if err != nil {
				return err
			}

			logger := cliLogger(c)
			client, err := newSolanaClient(c, logger)
			if err != nil {
				return err
			}
			submitter := solana.NewSubmitter(client, logger,
				solana.WithDiagnostics(solana.Diagnostics{FetchLogs: c.Bool("fetch-logs")}),
			)

			memo := temporal.MemoInstruction(payer.PublicKey(), c.Args().First())
			result, err := submitter.Submit(c.Context, []solanago.Instruction{memo}, nil, payer, solana.SubmitOptions{
				PriorityFee:            c.Uint64("priority-fee"),
				ConfirmationCommitment: commitment,
				Preflight:              c.Bool("preflight"),
				PostSubmit: func(_ context.Context, sig solanago.Signature) error {
					fmt.Fprintf(os.Stderr, "Sent %s, waiting for %s\n", sig, commitment)
					return nil
				},
			})

			var subErr *solana.SubmissionError
			if errors.As(err, &subErr) {
				return cli.Exit(err.Error(), 3)
			}
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(submissionOutput(result))
			}
			fmt.Printf("Signature:  %s\n", result.Signature)
			fmt.Printf("Status:     %s\n", result.Status)
			fmt.Printf("Slot:       %d\n", result.Slot)
			fmt.Printf("Commitment: %s\n", result.Commitment)
			return nil
		},
	}
}

type submissionJSON struct {
	Signature  string `json:"signature"`
	Status     string `json:"status"`
	Slot       uint64 `json:"slot"`
	Commitment string `json:"commitment"`
}

func submissionOutput(r *solana.SubmissionResult) submissionJSON {
	return submissionJSON{
		Signature:  r.Signature.String(),
		Status:     string(r.Status),
		Slot:       r.Slot,
		Commitment: string(r.Commitment),
	}
}
