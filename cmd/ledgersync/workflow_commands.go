package main

import (
	"fmt"
	"time"

	"github.com/brojonat/ledgersync/client"
	"github.com/brojonat/ledgersync/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func workflowCommands() *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: "Run submissions as durable Temporal workflows",
		Subcommands: []*cli.Command{
			startMemoWorkflowCommand(),
			scheduleMemoCommand(),
			unscheduleCommand(),
			workflowStatusCommand(),
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		cliLogger(c),
	)
}

func awaitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "await-address",
			Usage: "After confirmation, wait on this account",
		},
		&cli.StringSliceFlag{
			Name:  "jq",
			Usage: "jq filter the awaited account must satisfy (repeatable)",
		},
		decimalFieldFlag(),
		&cli.DurationFlag{
			Name:  "await-timeout",
			Usage: "How long the await step may take",
			Value: temporal.DefaultAwaitTimeout,
		},
	}
}

// memoWorkflowInput builds a SubmitAndAwaitInput for a memo signed by the worker's payer.
func memoWorkflowInput(c *cli.Context, payer solanago.PublicKey, text string) (temporal.SubmitAndAwaitInput, error) {
	spec, err := temporal.NewInstructionSpec(temporal.MemoInstruction(payer, text))
	if err != nil {
		return temporal.SubmitAndAwaitInput{}, err
	}

	input := temporal.SubmitAndAwaitInput{
		Instructions: []temporal.InstructionSpec{spec},
		PriorityFee:  c.Uint64("priority-fee"),
		Commitment:   c.String("commitment"),
		Preflight:    c.Bool("preflight"),
	}
	if addr := c.String("await-address"); addr != "" {
		input.Await = &temporal.AwaitAccountInput{
			Address:       addr,
			Commitment:    c.String("commitment"),
			JQ:            c.StringSlice("jq"),
			DecimalFields: c.StringSlice("decimal-field"),
			Timeout:       c.Duration("await-timeout"),
		}
	}
	return input, nil
}

func payerFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "payer",
		Usage:    "Public key of the worker's fee payer (the memo signer)",
		EnvVars:  []string{"LEDGERSYNC_PAYER"},
		Required: true,
	}
}

func startMemoWorkflowCommand() *cli.Command {
	flags := append(submitFlags(), awaitFlags()...)
	flags = append(flags,
		payerFlag(),
		&cli.StringFlag{
			Name:  "id",
			Usage: "Workflow ID (defaults to a timestamped ID)",
		},
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "Block until the workflow completes and print its result",
		},
	)

	return &cli.Command{
		Name:      "memo",
		Usage:     "Start a SubmitAndAwait workflow that writes a memo",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: memo text")
			}
			payer, err := solanago.PublicKeyFromBase58(c.String("payer"))
			if err != nil {
				return fmt.Errorf("invalid payer: %w", err)
			}

			input, err := memoWorkflowInput(c, payer, c.Args().First())
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			workflowID := c.String("id")
			if workflowID == "" {
				workflowID = fmt.Sprintf("submit-memo-%d", time.Now().UnixNano())
			}

			runID, err := tc.StartSubmitAndAwait(c.Context, workflowID, input)
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return outputJSON(map[string]string{"workflow_id": workflowID, "run_id": runID})
				}
				fmt.Printf("Started workflow %s (run %s)\n", workflowID, runID)
				return nil
			}

			result, err := tc.WaitSubmitAndAwait(c.Context, workflowID, runID)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("Signature: %s\n", result.Signature)
			fmt.Printf("Status:    %s\n", result.Status)
			fmt.Printf("Slot:      %d\n", result.Slot)
			if result.Await != nil {
				fmt.Printf("Await:     %s (slot %d)\n", result.Await.Outcome, result.Await.Slot)
			}
			return nil
		},
	}
}

func scheduleMemoCommand() *cli.Command {
	flags := append(submitFlags(), awaitFlags()...)
	flags = append(flags,
		payerFlag(),
		&cli.DurationFlag{
			Name:     "every",
			Usage:    "Interval between runs",
			Required: true,
		},
	)

	return &cli.Command{
		Name:      "schedule",
		Usage:     "Create or update a recurring memo submission",
		ArgsUsage: "<name> <text>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: schedule name and memo text")
			}
			payer, err := solanago.PublicKeyFromBase58(c.String("payer"))
			if err != nil {
				return fmt.Errorf("invalid payer: %w", err)
			}

			input, err := memoWorkflowInput(c, payer, c.Args().Get(1))
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.UpsertSubmitSchedule(c.Context, c.Args().Get(0), input, c.Duration("every")); err != nil {
				return err
			}
			fmt.Printf("Schedule %s runs every %s\n", c.Args().Get(0), c.Duration("every"))
			return nil
		},
	}
}

func unscheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "unschedule",
		Usage:     "Delete a recurring submission",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule name")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteSubmitSchedule(c.Context, c.Args().First()); err != nil {
				return err
			}
			fmt.Printf("Schedule %s deleted\n", c.Args().First())
			return nil
		},
	}
}

func workflowStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a workflow's status through the ledgersync server",
		ArgsUsage: "<workflow-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow ID")
			}

			api := client.NewClient(c.String("server-url"), nil, cliLogger(c))
			status, err := api.GetWorkflow(c.Context, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(status)
			}
			fmt.Printf("Workflow:  %s\n", status.WorkflowID)
			fmt.Printf("Run:       %s\n", status.RunID)
			fmt.Printf("Status:    %s\n", status.Status)
			if status.Result != nil {
				fmt.Printf("Signature: %s (%s, slot %d)\n", status.Result.Signature, status.Result.Status, status.Result.Slot)
				if status.Result.Await != nil {
					fmt.Printf("Await:     %s\n", status.Result.Await.Outcome)
				}
			}
			return nil
		},
	}
}
