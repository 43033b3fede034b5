package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ledgersync/service/db"
	"github.com/brojonat/ledgersync/service/metrics"
	natspkg "github.com/brojonat/ledgersync/service/nats"
	"github.com/brojonat/ledgersync/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types. Workflows list the non-retryable ones in their retry policies.
const (
	ErrTypeInvalidInput      = "InvalidInput"
	ErrTypeSubmissionFailed  = "SubmissionFailed"
	ErrTypeUnconfirmed       = "SubmissionUnconfirmed"
	ErrTypeBlockhashExpired  = "BlockhashExpired"
	ErrTypeDecodeFailed      = "DecodeFailed"
	ErrTypeSubscriptionError = "SubscriptionError"
)

// SubmitTransactionInput is the input for the SubmitTransaction activity.
type SubmitTransactionInput struct {
	Instructions []InstructionSpec `json:"instructions"`
	PriorityFee  uint64            `json:"priority_fee,omitempty"`
	Commitment   string            `json:"commitment,omitempty"`
	Preflight    bool              `json:"preflight,omitempty"`
	WorkflowID   string            `json:"workflow_id,omitempty"`
}

// SubmitTransactionResult is the result of a confirmed submission.
type SubmitTransactionResult struct {
	Signature            string `json:"signature"`
	Status               string `json:"status"`
	Slot                 uint64 `json:"slot"`
	Commitment           string `json:"commitment"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// AwaitAccountInput is the input for the AwaitAccount activity.
type AwaitAccountInput struct {
	Address    string `json:"address"`
	Commitment string `json:"commitment,omitempty"`

	// JQ filters must all be truthy against the account view. No filters
	// resolves on the first observed state.
	JQ []string `json:"jq,omitempty"`

	// DecimalFields are "name=offset" pairs decoded into the view's decimals.
	DecimalFields []string `json:"decimal_fields,omitempty"`

	Timeout    time.Duration `json:"timeout,omitempty"`
	WorkflowID string        `json:"workflow_id,omitempty"`
}

// AwaitAccountResult is the result of the AwaitAccount activity.
// A timeout is reported through Outcome, not as an activity error.
type AwaitAccountResult struct {
	Address string              `json:"address"`
	Outcome string              `json:"outcome"`
	Slot    uint64              `json:"slot,omitempty"`
	View    *solana.AccountView `json:"view,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// StoreInterface defines the journal operations needed by activities.
type StoreInterface interface {
	CreateSubmission(ctx context.Context, params db.CreateSubmissionParams) (*db.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, params db.UpdateSubmissionStatusParams) (*db.Submission, error)
}

// SubmitterInterface is implemented by *solana.Submitter.
type SubmitterInterface interface {
	Submit(ctx context.Context, batch []solanago.Instruction, signers []solanago.PrivateKey, payer solana.Payer, opts solana.SubmitOptions) (*solana.SubmissionResult, error)
}

// AwaiterInterface is implemented by *solana.Awaiter.
type AwaiterInterface interface {
	AwaitView(ctx context.Context, address solanago.PublicKey, commitment rpc.CommitmentType, fields []solana.DecimalField, predicate func(*solana.AccountView) bool, timeout time.Duration) (*solana.AccountView, error)
}

// PublisherInterface defines the event publishing needed by activities.
type PublisherInterface interface {
	PublishSubmission(ctx context.Context, event *natspkg.SubmissionEvent) error
	PublishAwait(ctx context.Context, event *natspkg.AwaitEvent) error
}

// Activities holds the dependencies for Temporal activities.
// Store and publisher are optional.
type Activities struct {
	submitter SubmitterInterface
	awaiter   AwaiterInterface
	store     StoreInterface
	publisher PublisherInterface
	payer     solana.Payer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	submitter SubmitterInterface,
	awaiter AwaiterInterface,
	store StoreInterface,
	publisher PublisherInterface,
	payer solana.Payer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		submitter: submitter,
		awaiter:   awaiter,
		store:     store,
		publisher: publisher,
		payer:     payer,
		metrics:   m,
		logger:    logger,
	}
}

// SubmitTransaction signs the instructions with the worker's payer, broadcasts
// them and waits for the requested commitment.
//
// Expired blockhashes are retryable since the original can no longer land.
// A transaction that was sent but never resolved is not retried to avoid
// submitting it twice.
func (a *Activities) SubmitTransaction(ctx context.Context, input SubmitTransactionInput) (*SubmitTransactionResult, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		a.metrics.RecordActivity("SubmitTransaction", outcome, time.Since(start).Seconds())
	}()

	batch, err := ToInstructions(input.Instructions)
	if err != nil {
		outcome = "invalid_input"
		return nil, invalidInput(err)
	}

	var commitment rpc.CommitmentType
	if input.Commitment != "" {
		c, ok := solana.ParseCommitment(input.Commitment)
		if !ok {
			outcome = "invalid_input"
			return nil, invalidInput(fmt.Errorf("unknown commitment %q", input.Commitment))
		}
		commitment = c
	}

	a.logger.DebugContext(ctx, "submitting transaction",
		"instructions", len(batch),
		"payer", a.payer.PublicKey().String(),
		"commitment", input.Commitment,
		"workflow_id", input.WorkflowID,
	)

	result, err := a.submitter.Submit(ctx, batch, nil, a.payer, solana.SubmitOptions{
		PriorityFee:            input.PriorityFee,
		ConfirmationCommitment: commitment,
		Preflight:              input.Preflight,
		PostSubmit:             a.journalPending(input),
	})
	if err != nil {
		outcome, err = a.submitFailure(ctx, input, result, err)
		return nil, err
	}

	outcome = "confirmed"
	a.recordOutcome(ctx, input, result, string(result.Status), "")

	a.logger.InfoContext(ctx, "transaction confirmed",
		"signature", result.Signature.String(),
		"slot", result.Slot,
		"commitment", string(result.Commitment),
	)

	return &SubmitTransactionResult{
		Signature:            result.Signature.String(),
		Status:               string(result.Status),
		Slot:                 result.Slot,
		Commitment:           string(result.Commitment),
		LastValidBlockHeight: result.LastValidBlockHeight,
	}, nil
}

// journalPending returns the post-submit hook that journals and announces the
// signature before confirmation starts.
func (a *Activities) journalPending(input SubmitTransactionInput) solana.PostSubmitFunc {
	payer := a.payer.PublicKey().String()
	kind := a.payer.Kind().String()

	base := natspkg.SubmissionEvent{
		Payer:      payer,
		SignerKind: kind,
		Commitment: input.Commitment,
		WorkflowID: input.WorkflowID,
	}

	return func(ctx context.Context, sig solanago.Signature) error {
		var errs []error
		if a.store != nil {
			_, err := a.store.CreateSubmission(ctx, db.CreateSubmissionParams{
				Signature:  sig.String(),
				Payer:      payer,
				SignerKind: kind,
				Status:     string(solana.StatusPending),
				Commitment: input.Commitment,
				WorkflowID: stringPtrOrNil(input.WorkflowID),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to journal submission: %w", err))
			}
		}
		if a.publisher != nil {
			if err := natspkg.SubmittedHook(a.publisher, base)(ctx, sig); err != nil {
				errs = append(errs, fmt.Errorf("failed to publish submission: %w", err))
			}
		}
		return errors.Join(errs...)
	}
}

// submitFailure records a failed submission and converts err into a Temporal error.
func (a *Activities) submitFailure(ctx context.Context, input SubmitTransactionInput, result *solana.SubmissionResult, err error) (string, error) {
	var subErr *solana.SubmissionError
	var missing *solana.MissingSignerError

	switch {
	case errors.As(err, &subErr):
		a.recordOutcome(ctx, input, result, string(solana.StatusFailed), err.Error())
		a.logger.ErrorContext(ctx, "transaction failed on chain",
			"signature", subErr.Signature.String(),
			"status", subErr.Status,
		)
		return "failed", temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeSubmissionFailed, err)

	case errors.Is(err, solana.ErrBlockhashExpired):
		a.recordOutcome(ctx, input, result, "expired", err.Error())
		a.logger.WarnContext(ctx, "transaction expired before confirmation", "error", err)
		return "expired", temporalsdk.NewApplicationErrorWithCause(err.Error(), ErrTypeBlockhashExpired, err)

	case errors.Is(err, solana.ErrTransactionTooLarge),
		errors.Is(err, solana.ErrNoInstructions),
		errors.Is(err, solana.ErrInvalidPayer),
		errors.Is(err, solana.ErrInvalidSigner),
		errors.As(err, &missing):
		return "invalid_input", invalidInput(err)

	case result != nil:
		// Sent but unresolved, usually because the activity context ended.
		a.logger.ErrorContext(ctx, "transaction sent but not confirmed",
			"signature", result.Signature.String(),
			"error", err,
		)
		return "unconfirmed", temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("transaction %s sent but not confirmed: %v", result.Signature, err),
			ErrTypeUnconfirmed, err)

	default:
		a.logger.ErrorContext(ctx, "failed to submit transaction", "error", err)
		return "error", fmt.Errorf("failed to submit transaction: %w", err)
	}
}

// recordOutcome updates the journal and publishes the final status. Both are best-effort.
func (a *Activities) recordOutcome(ctx context.Context, input SubmitTransactionInput, result *solana.SubmissionResult, status, failure string) {
	if result == nil {
		return
	}

	if a.store != nil {
		_, err := a.store.UpdateSubmissionStatus(ctx, db.UpdateSubmissionStatusParams{
			Signature:            result.Signature.String(),
			Status:               status,
			Slot:                 int64(result.Slot),
			LastValidBlockHeight: int64(result.LastValidBlockHeight),
			Error:                stringPtrOrNil(failure),
		})
		if err != nil {
			a.logger.WarnContext(ctx, "failed to update journal",
				"signature", result.Signature.String(),
				"error", err,
			)
		}
	}

	if a.publisher != nil {
		event := &natspkg.SubmissionEvent{
			Signature:   result.Signature.String(),
			Payer:       a.payer.PublicKey().String(),
			SignerKind:  a.payer.Kind().String(),
			Status:      status,
			Slot:        int64(result.Slot),
			Commitment:  string(result.Commitment),
			Error:       failure,
			WorkflowID:  input.WorkflowID,
			PublishedAt: time.Now().UTC(),
		}
		if err := a.publisher.PublishSubmission(ctx, event); err != nil {
			a.logger.ErrorContext(ctx, "failed to publish submission outcome",
				"signature", event.Signature,
				"error", err,
			)
		}
	}
}

// AwaitAccount waits until the account satisfies every jq filter in input.
// An awaiter built with solana.WithAccountLookup also checks the current
// account state once subscribed, so a condition that already holds resolves
// without waiting for another change.
func (a *Activities) AwaitAccount(ctx context.Context, input AwaitAccountInput) (*AwaitAccountResult, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		a.metrics.RecordActivity("AwaitAccount", outcome, time.Since(start).Seconds())
	}()

	address, err := solanago.PublicKeyFromBase58(input.Address)
	if err != nil {
		outcome = "invalid_input"
		return nil, invalidInput(fmt.Errorf("invalid account address: %w", err))
	}

	commitment := rpc.CommitmentConfirmed
	if input.Commitment != "" {
		c, ok := solana.ParseCommitment(input.Commitment)
		if !ok {
			outcome = "invalid_input"
			return nil, invalidInput(fmt.Errorf("unknown commitment %q", input.Commitment))
		}
		commitment = c
	}

	fields := make([]solana.DecimalField, 0, len(input.DecimalFields))
	for _, raw := range input.DecimalFields {
		f, err := solana.ParseDecimalField(raw)
		if err != nil {
			outcome = "invalid_input"
			return nil, invalidInput(err)
		}
		fields = append(fields, f)
	}

	predicate, err := solana.JQPredicate(input.JQ...)
	if err != nil {
		outcome = "invalid_input"
		return nil, invalidInput(err)
	}

	result := &AwaitAccountResult{Address: input.Address}
	view, err := a.awaiter.AwaitView(ctx, address, commitment, fields, predicate, input.Timeout)

	var decErr *solana.DecodeError
	var subErr *solana.SubscriptionError
	switch {
	case err == nil:
		outcome = "matched"
		result.Outcome = outcome
		result.Slot = view.Slot
		result.View = view

	case errors.Is(err, solana.ErrTimeout):
		outcome = "timeout"
		result.Outcome = outcome
		result.Error = err.Error()

	case errors.As(err, &decErr):
		outcome = "decode_error"
		result.Outcome = outcome
		result.Error = err.Error()
		a.publishAwait(ctx, input, result)
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeDecodeFailed, err)

	case errors.As(err, &subErr):
		outcome = "subscription_error"
		return nil, temporalsdk.NewApplicationErrorWithCause(err.Error(), ErrTypeSubscriptionError, err)

	default:
		return nil, fmt.Errorf("failed to await account: %w", err)
	}

	a.logger.InfoContext(ctx, "account await finished",
		"address", input.Address,
		"outcome", result.Outcome,
		"slot", result.Slot,
	)
	a.publishAwait(ctx, input, result)
	return result, nil
}

func (a *Activities) publishAwait(ctx context.Context, input AwaitAccountInput, result *AwaitAccountResult) {
	if a.publisher == nil {
		return
	}

	event := &natspkg.AwaitEvent{
		Address:     result.Address,
		Outcome:     result.Outcome,
		Slot:        result.Slot,
		Error:       result.Error,
		WorkflowID:  input.WorkflowID,
		PublishedAt: time.Now().UTC(),
	}
	if result.View != nil {
		state, err := json.Marshal(result.View)
		if err == nil {
			event.State = state
		}
	}

	if err := a.publisher.PublishAwait(ctx, event); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish await event",
			"address", result.Address,
			"error", err,
		)
	}
}

func invalidInput(err error) error {
	return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
