package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// DefaultAwaitTimeout bounds an await step that sets no timeout.
const DefaultAwaitTimeout = 60 * time.Second

// SubmitAndAwaitInput is the input for SubmitAndAwaitWorkflow.
type SubmitAndAwaitInput struct {
	Instructions []InstructionSpec `json:"instructions"`
	PriorityFee  uint64            `json:"priority_fee,omitempty"`
	Commitment   string            `json:"commitment,omitempty"`
	Preflight    bool              `json:"preflight,omitempty"`

	// Await, when set, runs after the transaction is confirmed.
	Await *AwaitAccountInput `json:"await,omitempty"`
}

// SubmitAndAwaitResult is the result of SubmitAndAwaitWorkflow.
type SubmitAndAwaitResult struct {
	Signature string              `json:"signature,omitempty"`
	Status    string              `json:"status,omitempty"`
	Slot      uint64              `json:"slot,omitempty"`
	Await     *AwaitAccountResult `json:"await,omitempty"`
	Error     *string             `json:"error,omitempty"`
}

// SubmitAndAwaitWorkflow submits a transaction and then waits for an account
// to reflect it.
//
// The workflow performs these steps:
// 1. Submit and confirm the transaction (SubmitTransaction activity)
// 2. Optionally wait for an account condition (AwaitAccount activity)
func SubmitAndAwaitWorkflow(ctx workflow.Context, input SubmitAndAwaitInput) (*SubmitAndAwaitResult, error) {
	logger := workflow.GetLogger(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger.Info("SubmitAndAwaitWorkflow started", "instructions", len(input.Instructions))

	result := &SubmitAndAwaitResult{}

	submitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				ErrTypeInvalidInput,
				ErrTypeSubmissionFailed,
				ErrTypeUnconfirmed,
			},
		},
	})

	var submitted *SubmitTransactionResult
	err := workflow.ExecuteActivity(submitCtx, a.SubmitTransaction, SubmitTransactionInput{
		Instructions: input.Instructions,
		PriorityFee:  input.PriorityFee,
		Commitment:   input.Commitment,
		Preflight:    input.Preflight,
		WorkflowID:   workflowID,
	}).Get(ctx, &submitted)
	if err != nil {
		logger.Error("failed to submit transaction", "error", err)
		errMsg := fmt.Sprintf("failed to submit transaction: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to submit transaction: %w", err)
	}

	result.Signature = submitted.Signature
	result.Status = submitted.Status
	result.Slot = submitted.Slot
	logger.Info("transaction confirmed", "signature", submitted.Signature, "slot", submitted.Slot)

	if input.Await == nil {
		return result, nil
	}

	awaitInput := *input.Await
	awaitInput.WorkflowID = workflowID
	if awaitInput.Timeout <= 0 {
		awaitInput.Timeout = DefaultAwaitTimeout
	}

	awaitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: awaitInput.Timeout + time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				ErrTypeInvalidInput,
				ErrTypeDecodeFailed,
			},
		},
	})

	var awaited *AwaitAccountResult
	err = workflow.ExecuteActivity(awaitCtx, a.AwaitAccount, awaitInput).Get(ctx, &awaited)
	if err != nil {
		logger.Error("failed to await account", "address", awaitInput.Address, "error", err)
		errMsg := fmt.Sprintf("failed to await account: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to await account: %w", err)
	}

	result.Await = awaited
	logger.Info("SubmitAndAwaitWorkflow completed",
		"signature", result.Signature,
		"await_outcome", awaited.Outcome,
	)
	return result, nil
}
