package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ledgersync/service/decimal"
	"github.com/brojonat/ledgersync/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// AwaitSpec describes one conditional wait on an account.
type AwaitSpec[T any] struct {
	Address    solana.PublicKey
	Commitment rpc.CommitmentType
	Decode     func(update *AccountUpdate) (T, error)
	Predicate  func(state T) bool
	Timeout    time.Duration

	// Current, when set, reads the account's present state once the
	// subscription is open, so a change landing between the read and the
	// subscribe is still delivered as a notification. A nil update means
	// there is nothing to check yet.
	Current func(ctx context.Context) (*AccountUpdate, error)
}

// AccountLookuper is implemented by *Client.
type AccountLookuper interface {
	LookupAccount(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (*AccountLookup, error)
}

// DataDecoder adapts a decoder over raw account data to AwaitSpec.Decode.
func DataDecoder[T any](decode func(data []byte) (T, error)) func(*AccountUpdate) (T, error) {
	return func(u *AccountUpdate) (T, error) {
		return decode(u.Data)
	}
}

// AwaitCondition subscribes to spec.Address and returns the first decoded state
// satisfying spec.Predicate. The subscription is removed exactly once on every
// path. Decoding failures abort the wait.
func AwaitCondition[T any](ctx context.Context, subscriber AccountSubscriber, spec AwaitSpec[T]) (T, error) {
	var zero T
	state, _, err := awaitCondition(ctx, subscriber, spec)
	if err != nil {
		return zero, err
	}
	return state, nil
}

func awaitCondition[T any](ctx context.Context, subscriber AccountSubscriber, spec AwaitSpec[T]) (T, int, error) {
	var zero T
	if spec.Timeout <= 0 {
		return zero, 0, fmt.Errorf("await timeout must be positive, got %s", spec.Timeout)
	}
	if spec.Decode == nil || spec.Predicate == nil {
		return zero, 0, fmt.Errorf("await requires both a decoder and a predicate")
	}
	commitment := spec.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentProcessed
	}

	waitCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	sub, err := subscriber.SubscribeAccount(waitCtx, spec.Address, commitment)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, 0, ctxErr
		}
		return zero, 0, &SubscriptionError{Address: spec.Address, Err: err}
	}
	defer sub.Unsubscribe()

	if spec.Current != nil {
		update, err := spec.Current(waitCtx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return zero, 0, ctx.Err()
			case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
				return zero, 0, &TimeoutError{Address: spec.Address, Timeout: spec.Timeout}
			default:
				return zero, 0, fmt.Errorf("failed to read current state of %s: %w", spec.Address, err)
			}
		}
		if update != nil {
			state, err := spec.Decode(update)
			if err != nil {
				return zero, 0, &DecodeError{Address: spec.Address, Slot: update.Slot, Err: err}
			}
			if spec.Predicate(state) {
				return state, 0, nil
			}
		}
	}

	notifications := 0
	for {
		update, err := sub.Recv(waitCtx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return zero, notifications, ctx.Err()
			case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
				return zero, notifications, &TimeoutError{
					Address:       spec.Address,
					Timeout:       spec.Timeout,
					Notifications: notifications,
				}
			default:
				return zero, notifications, &SubscriptionError{Address: spec.Address, Err: err}
			}
		}
		notifications++

		state, err := spec.Decode(update)
		if err != nil {
			return zero, notifications, &DecodeError{Address: spec.Address, Slot: update.Slot, Err: err}
		}
		if spec.Predicate(state) {
			return state, notifications, nil
		}
	}
}

// Awaiter runs account awaits with logging and metrics.
type Awaiter struct {
	subscriber AccountSubscriber
	accounts   AccountLookuper
	logger     *slog.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
}

// AwaiterOption configures an Awaiter.
type AwaiterOption func(*Awaiter)

// WithAccountLookup makes every await that sets no Current check the
// account's present state after subscribing, so a condition that already
// holds resolves without waiting for another change.
func WithAccountLookup(accounts AccountLookuper) AwaiterOption {
	return func(a *Awaiter) {
		a.accounts = accounts
	}
}

// NewAwaiter creates an Awaiter. defaultTimeout applies to awaits that set no Timeout.
func NewAwaiter(subscriber AccountSubscriber, defaultTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger, opts ...AwaiterOption) *Awaiter {
	a := &Awaiter{
		subscriber: subscriber,
		logger:     logger,
		metrics:    m,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// currentState reads address through the lookup. Read failures are logged and
// treated as nothing to check, leaving the subscription to decide.
func (a *Awaiter) currentState(address solana.PublicKey, commitment rpc.CommitmentType) func(context.Context) (*AccountUpdate, error) {
	if commitment == "" {
		commitment = rpc.CommitmentProcessed
	}
	return func(ctx context.Context) (*AccountUpdate, error) {
		lookup, err := a.accounts.LookupAccount(ctx, address, commitment)
		if err != nil {
			a.logger.WarnContext(ctx, "failed to read current account state",
				"address", address.String(),
				"error", err,
			)
			return nil, nil
		}
		if !lookup.Exists() {
			return nil, nil
		}
		return lookup.Account, nil
	}
}

// Await is AwaitCondition with the Awaiter's logging, metrics, and default timeout.
func Await[T any](ctx context.Context, a *Awaiter, spec AwaitSpec[T]) (T, error) {
	if spec.Timeout == 0 {
		spec.Timeout = a.timeout
	}
	if spec.Current == nil && a.accounts != nil {
		spec.Current = a.currentState(spec.Address, spec.Commitment)
	}

	a.logger.DebugContext(ctx, "awaiting account condition",
		"address", spec.Address.String(),
		"timeout", spec.Timeout.String(),
	)
	a.metrics.RecordSubscriptionChange("await", 1)
	start := time.Now()

	state, notifications, err := awaitCondition(ctx, a.subscriber, spec)

	a.metrics.RecordSubscriptionChange("await", -1)
	outcome := awaitOutcome(err)
	a.metrics.RecordAwait(outcome, time.Since(start).Seconds(), notifications)

	if err != nil {
		a.logger.WarnContext(ctx, "account await finished without match",
			"address", spec.Address.String(),
			"outcome", outcome,
			"notifications", notifications,
			"error", err,
		)
		return state, err
	}
	a.logger.DebugContext(ctx, "account condition met",
		"address", spec.Address.String(),
		"notifications", notifications,
	)
	return state, nil
}

// AwaitView waits until predicate matches the account's JSON view.
func (a *Awaiter) AwaitView(
	ctx context.Context,
	address solana.PublicKey,
	commitment rpc.CommitmentType,
	fields []DecimalField,
	predicate func(*AccountView) bool,
	timeout time.Duration,
) (*AccountView, error) {
	return Await(ctx, a, AwaitSpec[*AccountView]{
		Address:    address,
		Commitment: commitment,
		Decode: func(u *AccountUpdate) (*AccountView, error) {
			return NewAccountView(u, fields)
		},
		Predicate: predicate,
		Timeout:   timeout,
	})
}

// AwaitDecimal waits until the Decimal at field becomes non-zero. When expected
// is set, the first non-zero value must equal it numerically or ErrValueMismatch
// is returned.
func (a *Awaiter) AwaitDecimal(
	ctx context.Context,
	address solana.PublicKey,
	commitment rpc.CommitmentType,
	field DecimalField,
	expected *decimal.Decimal,
	timeout time.Duration,
) (decimal.Decimal, error) {
	got, err := Await(ctx, a, AwaitSpec[decimal.Decimal]{
		Address:    address,
		Commitment: commitment,
		Decode:     DataDecoder(func(data []byte) (decimal.Decimal, error) { return decimal.Decode(data, field.Offset) }),
		Predicate:  func(d decimal.Decimal) bool { return !d.IsZero() },
		Timeout:    timeout,
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	if expected != nil && !decimal.NumericEqual(got, *expected) {
		return got, fmt.Errorf("%w: field %s is %s, expected %s", ErrValueMismatch, field.Name, got, expected)
	}
	return got, nil
}

func awaitOutcome(err error) string {
	var subErr *SubscriptionError
	var decErr *DecodeError
	switch {
	case err == nil:
		return "matched"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &subErr):
		return "subscription_error"
	case errors.As(err, &decErr):
		return "decode_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
