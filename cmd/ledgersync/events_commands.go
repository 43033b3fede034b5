package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/ledgersync/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Stream submission and await events from NATS JetStream",
		Subcommands: []*cli.Command{
			subscribeEventsCommand("submissions", "Stream submission events for a fee payer"),
			subscribeEventsCommand("awaits", "Stream await outcomes for an account"),
			inspectStreamCommand(),
		},
	}
}

func subscribeEventsCommand(prefix, usage string) *cli.Command {
	return &cli.Command{
		Name:      prefix,
		Usage:     usage,
		ArgsUsage: "[address]",
		Description: fmt.Sprintf(`Events are published to %s.{address}. Without an address every
%s event is streamed.`, prefix, prefix),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (used with --durable)",
				Value: "ledgersync-cli-" + prefix,
			},
		},
		Action: func(c *cli.Context) error {
			subject := prefix + ".*"
			if c.NArg() > 0 {
				subject = prefix + "." + c.Args().First()
			}

			config := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				config.Durable = c.String("consumer-name")
				config.Name = c.String("consumer-name")
			}

			return streamEvents(c.String("nats-url"), config, c.Bool("json"))
		},
	}
}

// streamEvents prints every message on the consumer until interrupted.
func streamEvents(natsURL string, config jetstream.ConsumerConfig, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, config)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("Subscribing to %s on %s (Ctrl-C to exit)\n\n", config.FilterSubject, natsURL)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			if jsonOutput {
				fmt.Println(string(msg.Data()))
			} else if err := printEvent(msg.Subject(), msg.Data()); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			}
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\nReceived %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(subject string, data []byte) error {
	switch subjectKind(subject) {
	case "submissions":
		var event natspkg.SubmissionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Printf("[%s] submission %s %s payer=%s commitment=%s\n",
			event.PublishedAt.Format(time.RFC3339), shorten(event.Signature), event.Status, shorten(event.Payer), event.Commitment)
		if event.Error != "" {
			fmt.Printf("    error: %s\n", event.Error)
		}
	case "awaits":
		var event natspkg.AwaitEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Printf("[%s] await %s %s slot=%d notifications=%d\n",
			event.PublishedAt.Format(time.RFC3339), shorten(event.Address), event.Outcome, event.Slot, event.Notifications)
		if event.Error != "" {
			fmt.Printf("    error: %s\n", event.Error)
		}
	default:
		fmt.Printf("%s: %s\n", subject, data)
	}
	return nil
}

func subjectKind(subject string) string {
	kind, _, _ := strings.Cut(subject, ".")
	return kind
}

func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Show the state of the LEDGERSYNC JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}
			fmt.Printf("Stream:     %s\n", info.Config.Name)
			fmt.Printf("Subjects:   %v\n", info.Config.Subjects)
			fmt.Printf("Messages:   %d\n", info.State.Msgs)
			fmt.Printf("Bytes:      %d\n", info.State.Bytes)
			fmt.Printf("Consumers:  %d\n", info.State.Consumers)
			fmt.Printf("Max Age:    %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
