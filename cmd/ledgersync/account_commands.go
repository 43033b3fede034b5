package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ledgersync/service/decimal"
	"github.com/brojonat/ledgersync/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	shopspring "github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func accountCommands() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Inspect and wait on account state",
		Subcommands: []*cli.Command{
			getAccountCommand(),
			awaitAccountCommand(),
			awaitDecimalCommand(),
			watchAccountsCommand(),
		},
	}
}

func commitmentFlag(value string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "commitment",
		Usage: "Commitment level (processed, confirmed, finalized)",
		Value: value,
	}
}

func decimalFieldFlag() *cli.StringSliceFlag {
	return &cli.StringSliceFlag{
		Name:    "decimal-field",
		Aliases: []string{"f"},
		Usage:   "Decode a decimal at a byte offset into .decimals.<name> (name=offset)",
	}
}

func getAccountCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch an account that may not exist yet",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			commitmentFlag("confirmed"),
			decimalFieldFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address, err := solanago.PublicKeyFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid account address: %w", err)
			}
			commitment, err := parseCommitmentFlag(c, "commitment")
			if err != nil {
				return err
			}
			fields, err := parseDecimalFields(c.StringSlice("decimal-field"))
			if err != nil {
				return err
			}

			client, err := newSolanaClient(c, cliLogger(c))
			if err != nil {
				return err
			}

			lookup, err := client.LookupAccount(c.Context, address, commitment)
			if err != nil {
				return err
			}
			if !lookup.Exists() {
				if c.Bool("json") {
					return outputJSON(map[string]string{"address": address.String(), "status": lookup.Status.String()})
				}
				fmt.Printf("Account %s does not exist\n", address)
				return nil
			}

			view, err := solana.NewAccountView(lookup.Account, fields)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(view)
			}
			printAccountView(view)
			return nil
		},
	}
}

func awaitAccountCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait until an account satisfies jq conditions",
		ArgsUsage: "<address>",
		Description: `Subscribe to an account and block until every --jq filter is truthy.

The filters run against a JSON view of each notification:
  {"address", "slot", "lamports", "owner", "data" (base64), "data_len", "decimals"}

Example:
  ledgersync account await <address> -f price=8 --jq '.decimals.price.value > 1.5'`,
		Flags: []cli.Flag{
			commitmentFlag("confirmed"),
			decimalFieldFlag(),
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter that must be truthy (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait",
				Value: 60 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address, err := solanago.PublicKeyFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid account address: %w", err)
			}
			commitment, err := parseCommitmentFlag(c, "commitment")
			if err != nil {
				return err
			}
			fields, err := parseDecimalFields(c.StringSlice("decimal-field"))
			if err != nil {
				return err
			}
			predicate, err := solana.JQPredicate(c.StringSlice("jq")...)
			if err != nil {
				return err
			}

			sub, err := dialSubscriber(c)
			if err != nil {
				return err
			}
			defer sub.Close()

			awaiter := newAwaiter(c, sub)
			view, err := awaiter.AwaitView(c.Context, address, commitment, fields, predicate, c.Duration("timeout"))
			if errors.Is(err, solana.ErrTimeout) {
				return cli.Exit(err.Error(), 2)
			}
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(view)
			}
			printAccountView(view)
			return nil
		},
	}
}

func awaitDecimalCommand() *cli.Command {
	return &cli.Command{
		Name:      "await-decimal",
		Usage:     "Wait until a decimal field becomes non-zero",
		ArgsUsage: "<address> <name=offset>",
		Flags: []cli.Flag{
			commitmentFlag("confirmed"),
			&cli.StringFlag{
				Name:  "expect",
				Usage: "Fail unless the first non-zero value equals this number",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait",
				Value: 60 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: account address and name=offset")
			}
			address, err := solanago.PublicKeyFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid account address: %w", err)
			}
			field, err := solana.ParseDecimalField(c.Args().Get(1))
			if err != nil {
				return err
			}
			commitment, err := parseCommitmentFlag(c, "commitment")
			if err != nil {
				return err
			}

			var expected *decimal.Decimal
			if raw := c.String("expect"); raw != "" {
				value, err := shopspring.NewFromString(raw)
				if err != nil {
					return fmt.Errorf("invalid --expect %q: %w", raw, err)
				}
				d, err := decimal.FromDecimal(value, decimal.MaxScale)
				if err != nil {
					return err
				}
				expected = &d
			}

			sub, err := dialSubscriber(c)
			if err != nil {
				return err
			}
			defer sub.Close()

			awaiter := newAwaiter(c, sub)
			got, err := awaiter.AwaitDecimal(c.Context, address, commitment, field, expected, c.Duration("timeout"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{"field": field.Name, "value": got})
			}
			fmt.Printf("%s = %s\n", field.Name, got)
			return nil
		},
	}
}

func watchAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream changes to one or more accounts until interrupted",
		ArgsUsage: "<address>...",
		Flags: []cli.Flag{
			commitmentFlag("confirmed"),
			decimalFieldFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("requires at least one account address")
			}
			commitment, err := parseCommitmentFlag(c, "commitment")
			if err != nil {
				return err
			}
			fields, err := parseDecimalFields(c.StringSlice("decimal-field"))
			if err != nil {
				return err
			}

			sub, err := dialSubscriber(c)
			if err != nil {
				return err
			}
			defer sub.Close()

			logger := cliLogger(c)
			watcher := solana.NewWatcher(sub, nil, logger)
			defer watcher.Clear()

			jsonOutput := c.Bool("json")
			onChange := func(u *solana.AccountUpdate) {
				view, err := solana.NewAccountView(u, fields)
				if err != nil {
					logger.Warn("failed to decode account", "address", u.Address.String(), "error", err)
					return
				}
				if jsonOutput {
					_ = outputJSON(view)
					return
				}
				fmt.Printf("[slot %d] %s lamports=%d data_len=%d\n", view.Slot, view.Address, view.Lamports, view.DataLen)
			}

			for _, arg := range c.Args().Slice() {
				address, err := solanago.PublicKeyFromBase58(arg)
				if err != nil {
					return fmt.Errorf("invalid account address %q: %w", arg, err)
				}
				if err := watcher.Watch(c.Context, address, commitment, onChange); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "Watching %d account(s), press Ctrl+C to stop\n", watcher.Len())

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
			select {
			case <-shutdown:
			case <-c.Context.Done():
			}
			return nil
		},
	}
}

func printAccountView(view *solana.AccountView) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Address:\t%s\n", view.Address)
	fmt.Fprintf(w, "Slot:\t%d\n", view.Slot)
	fmt.Fprintf(w, "Lamports:\t%d\n", view.Lamports)
	fmt.Fprintf(w, "Owner:\t%s\n", view.Owner)
	fmt.Fprintf(w, "Data length:\t%d\n", view.DataLen)
	for name, d := range view.Decimals {
		fmt.Fprintf(w, "%s:\t%s\n", name, d.Text)
	}
	w.Flush()
}
