package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Confirm polls the status of sig until it reaches commitment, fails, or the
// blockhash validity window closes. A zero LastValidBlockHeight disables the
// expiry check. Cancelling ctx stops the wait and returns a pending result.
func (s *Submitter) Confirm(
	ctx context.Context,
	sig solana.Signature,
	blockhash Blockhash,
	commitment rpc.CommitmentType,
) (*SubmissionResult, error) {
	if commitment == "" {
		commitment = rpc.CommitmentProcessed
	}
	return s.confirm(ctx, sig, blockhash, commitment)
}

func (s *Submitter) confirm(
	ctx context.Context,
	sig solana.Signature,
	blockhash Blockhash,
	commitment rpc.CommitmentType,
) (*SubmissionResult, error) {
	start := time.Now()
	polls := 0
	result := &SubmissionResult{
		Signature:            sig,
		Status:               StatusPending,
		Commitment:           commitment,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}
	record := func(outcome string) {
		s.metrics.RecordConfirmation(string(commitment), outcome, time.Since(start).Seconds(), polls)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		polls++

		// Height is read before the status so a status seen after expiry still wins.
		var height uint64
		if blockhash.LastValidBlockHeight > 0 {
			h, err := s.client.BlockHeight(ctx, commitment)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to read block height during confirmation",
					"signature", sig.String(),
					"error", err,
				)
			} else {
				height = h
			}
		}

		status, err := s.client.SignatureStatus(ctx, sig)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to read signature status",
				"signature", sig.String(),
				"error", err,
			)
		}

		if status != nil {
			result.Slot = status.Slot
			if status.Err != nil {
				result.Status = StatusFailed
				result.Err = formatStatusErr(status.Err)
				record("failed")
				return result, s.submissionError(ctx, sig, result.Err)
			}
			if reachedCommitment(status.ConfirmationStatus, commitment) {
				result.Status = StatusConfirmed
				record("confirmed")
				s.logger.DebugContext(ctx, "transaction confirmed",
					"signature", sig.String(),
					"slot", status.Slot,
					"commitment", string(commitment),
					"polls", polls,
				)
				return result, nil
			}
		}

		if blockhash.LastValidBlockHeight > 0 && height > blockhash.LastValidBlockHeight {
			record("expired")
			return result, &ExpiredError{
				Signature:            sig,
				LastValidBlockHeight: blockhash.LastValidBlockHeight,
				BlockHeight:          height,
			}
		}

		select {
		case <-ctx.Done():
			record("cancelled")
			return result, fmt.Errorf("confirmation of %s interrupted: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Submitter) submissionError(ctx context.Context, sig solana.Signature, status string) error {
	subErr := &SubmissionError{Signature: sig, Status: status}
	if !s.diagnostics.FetchLogs {
		return subErr
	}
	logs, err := s.client.TransactionLogs(ctx, sig)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to fetch logs for failed transaction",
			"signature", sig.String(),
			"error", err,
		)
		return subErr
	}
	subErr.Logs = logs
	return subErr
}

// formatStatusErr renders the RPC's transaction error as JSON, e.g.
// {"InstructionError":[0,{"Custom":6000}]}.
func formatStatusErr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
