package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/ledgersync/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SubmissionPublisher publishes submission events.
type SubmissionPublisher interface {
	// PublishSubmission publishes to "submissions.{payer}".
	PublishSubmission(ctx context.Context, event *SubmissionEvent) error
}

// Publisher defines the interface for publishing submission and await events to NATS.
type Publisher interface {
	SubmissionPublisher

	// PublishAwait publishes to "awaits.{address}".
	PublishAwait(ctx context.Context, event *AwaitEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for ledger events.
	StreamName = "LEDGERSYNC"

	// SubmissionSubjects and AwaitSubjects are the subject patterns of the stream.
	SubmissionSubjects = "submissions.*"
	AwaitSubjects      = "awaits.*"

	// StreamRetention is how long messages are retained (7 days by default).
	StreamRetention = 7 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
// If metrics is nil, no metrics will be recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("ledgersync-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Transaction submission and account await events",
		Subjects:    []string{SubmissionSubjects, AwaitSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishSubmission publishes a submission event.
func (p *JetStreamPublisher) PublishSubmission(ctx context.Context, event *SubmissionEvent) error {
	subject := fmt.Sprintf("submissions.%s", event.Payer)
	if err := p.publish(ctx, subject, event); err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "published submission event",
		"subject", subject,
		"signature", event.Signature,
		"status", event.Status,
	)
	return nil
}

// PublishAwait publishes an await event.
func (p *JetStreamPublisher) PublishAwait(ctx context.Context, event *AwaitEvent) error {
	subject := fmt.Sprintf("awaits.%s", event.Address)
	if err := p.publish(ctx, subject, event); err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "published await event",
		"subject", subject,
		"outcome", event.Outcome,
	)
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	status := "success"
	if err != nil {
		status = "error"
	}
	// Label by subject prefix to keep cardinality bounded.
	p.metrics.RecordNATSPublish(subjectPrefix(subject), status, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// SubmittedHook returns a post-submit callback that publishes a pending
// submission event as soon as the transaction is broadcast.
func SubmittedHook(p SubmissionPublisher, base SubmissionEvent) func(context.Context, solana.Signature) error {
	return func(ctx context.Context, sig solana.Signature) error {
		event := base
		event.Signature = sig.String()
		event.Status = "pending"
		event.PublishedAt = time.Now().UTC()
		return p.PublishSubmission(ctx, &event)
	}
}

func subjectPrefix(subject string) string {
	prefix, _, _ := strings.Cut(subject, ".")
	return prefix
}
