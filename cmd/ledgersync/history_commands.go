package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ledgersync/service/db"
	"github.com/urfave/cli/v2"
)

func historyCommands() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect the submission journal",
		Subcommands: []*cli.Command{
			listSubmissionsCommand(),
			getSubmissionCommand(),
			statsCommand(),
			pruneCommand(),
			migrateCommand(),
		},
	}
}

func listSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List journaled submissions, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "payer",
				Usage: "Filter by fee payer",
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (pending, confirmed, failed, expired)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of submissions",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of submissions to skip",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			subs, err := store.ListSubmissions(c.Context, db.ListSubmissionsParams{
				Payer:  c.String("payer"),
				Status: c.String("status"),
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(subs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tPAYER\tSTATUS\tSLOT\tCOMMITMENT\tCREATED")
			for _, sub := range subs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					shorten(sub.Signature),
					shorten(sub.Payer),
					sub.Status,
					sub.Slot,
					sub.Commitment,
					sub.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(subs))
			return nil
		},
	}
}

func getSubmissionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one journaled submission",
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			sub, err := store.GetSubmission(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get submission: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(sub)
			}

			fmt.Printf("Signature:   %s\n", sub.Signature)
			fmt.Printf("Payer:       %s (%s)\n", sub.Payer, sub.SignerKind)
			fmt.Printf("Status:      %s\n", sub.Status)
			fmt.Printf("Slot:        %d\n", sub.Slot)
			fmt.Printf("Commitment:  %s\n", sub.Commitment)
			fmt.Printf("Valid until: block %d\n", sub.LastValidBlockHeight)
			if sub.WorkflowID != nil {
				fmt.Printf("Workflow:    %s\n", *sub.WorkflowID)
			}
			if sub.Error != nil {
				fmt.Printf("Error:       %s\n", *sub.Error)
			}
			fmt.Printf("Created:     %s\n", sub.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:     %s\n", sub.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count submissions by status",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			counts, err := store.CountSubmissionsByStatus(c.Context)
			if err != nil {
				return fmt.Errorf("failed to count submissions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(counts)
			}

			statuses := make([]string, 0, len(counts))
			for status := range counts {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, status := range statuses {
				fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
			}
			w.Flush()
			return nil
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete journal entries older than a duration",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "older-than",
				Usage:    "Age threshold, e.g. 720h",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			before := time.Now().Add(-c.Duration("older-than"))
			deleted, err := store.DeleteSubmissionsOlderThan(c.Context, before)
			if err != nil {
				return fmt.Errorf("failed to prune submissions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]int64{"deleted": deleted})
			}
			fmt.Printf("Deleted %d submissions created before %s\n", deleted, before.Format(time.RFC3339))
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the journal schema if it does not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return err
			}
			fmt.Println("Journal schema is up to date")
			return nil
		},
	}
}

// shorten abbreviates base58 strings for table output.
func shorten(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "..." + s[len(s)-4:]
}
