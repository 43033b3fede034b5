package solana

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrTransactionTooLarge is matched by every *TransactionSizeError.
	ErrTransactionTooLarge = errors.New("transaction exceeds maximum size")

	// ErrBlockhashExpired is matched by every *ExpiredError.
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")

	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for account condition")

	// ErrNoInstructions is returned when Submit is called with an empty batch.
	ErrNoInstructions = errors.New("no instructions to submit")

	// ErrInvalidPayer is returned for a Payer without a capability tag or key material.
	ErrInvalidPayer = errors.New("invalid payer")

	// ErrInvalidSigner is returned when an additional signer's key is malformed.
	ErrInvalidSigner = errors.New("invalid signer")

	// ErrValueMismatch is returned by AwaitDecimal when the observed value differs from the expected one.
	ErrValueMismatch = errors.New("observed value does not match expected value")
)

// TransactionSizeError reports a compiled transaction that does not fit in a packet.
type TransactionSizeError struct {
	Size         int
	Max          int
	Instructions int
}

func (e *TransactionSizeError) Error() string {
	return fmt.Sprintf("transaction too large: %d bytes exceeds %d (%d instructions); split the batch",
		e.Size, e.Max, e.Instructions)
}

func (e *TransactionSizeError) Is(target error) bool {
	return target == ErrTransactionTooLarge
}

// MissingSignerError reports a required signer with no key material.
type MissingSignerError struct {
	Account solana.PublicKey
}

func (e *MissingSignerError) Error() string {
	return fmt.Sprintf("no signer provided for required signer %s", e.Account)
}

// SubmissionError is returned when the ledger executed and rejected the transaction.
type SubmissionError struct {
	Signature solana.Signature
	Status    string
	Logs      []string
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("transaction %s failed: %s", e.Signature, e.Status)
	if len(e.Logs) > 0 {
		msg += "\n" + strings.Join(e.Logs, "\n")
	}
	return msg
}

// ExpiredError is returned when the blockhash validity window closed without confirmation.
type ExpiredError struct {
	Signature            solana.Signature
	LastValidBlockHeight uint64
	BlockHeight          uint64
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed: block height %d passed last valid height %d",
		e.Signature, e.BlockHeight, e.LastValidBlockHeight)
}

func (e *ExpiredError) Is(target error) bool {
	return target == ErrBlockhashExpired
}

// TimeoutError is returned when an await predicate never matched in time.
type TimeoutError struct {
	Address       solana.PublicKey
	Timeout       time.Duration
	Notifications int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("account %s did not satisfy condition within %s (%d notifications)",
		e.Address, e.Timeout, e.Notifications)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// SubscriptionError is returned when the account subscription failed or dropped mid-wait.
type SubscriptionError struct {
	Address solana.PublicKey
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("account subscription for %s failed: %v", e.Address, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a notification could not be decoded.
type DecodeError struct {
	Address solana.PublicKey
	Slot    uint64
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode account %s at slot %d: %v", e.Address, e.Slot, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
