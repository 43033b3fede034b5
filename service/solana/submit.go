package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ledgersync/service/metrics"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
)

const defaultPollInterval = 500 * time.Millisecond

// PostSubmitFunc runs after broadcast and before confirmation. Its errors and
// panics are logged and never fail the submission.
type PostSubmitFunc func(ctx context.Context, sig solana.Signature) error

// SubmitOptions tunes a single submission. The zero value submits with
// preflight skipped and waits for processed commitment.
type SubmitOptions struct {
	// PriorityFee in micro-lamports per compute unit. Zero adds no compute budget instruction.
	PriorityFee uint64

	// LookupTables compiles a v0 message that resolves accounts through these tables.
	LookupTables map[solana.PublicKey]solana.PublicKeySlice

	// Blockhash overrides fetching a recent blockhash.
	Blockhash *Blockhash

	PreflightCommitment    rpc.CommitmentType
	ConfirmationCommitment rpc.CommitmentType

	// Preflight enables node-side simulation before broadcast.
	Preflight  bool
	MaxRetries *uint

	PostSubmit PostSubmitFunc
}

// Diagnostics controls extra work done when a transaction fails.
type Diagnostics struct {
	// FetchLogs attaches the failed transaction's log messages to SubmissionError.
	FetchLogs bool
}

// Submitter assembles, signs, broadcasts and confirms transactions.
// It is safe for concurrent use; each Submit call owns its own state.
type Submitter struct {
	client       *Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	pollInterval time.Duration
	diagnostics  Diagnostics
	defaults     SubmitOptions
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithMetrics records submission metrics.
func WithMetrics(m *metrics.Metrics) SubmitterOption {
	return func(s *Submitter) { s.metrics = m }
}

// WithPollInterval sets how often signature statuses are polled.
func WithPollInterval(d time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithDiagnostics enables failure diagnostics for this submitter.
func WithDiagnostics(d Diagnostics) SubmitterOption {
	return func(s *Submitter) { s.diagnostics = d }
}

// WithDefaults sets options applied when a Submit call leaves them unset.
// Only PriorityFee, the commitments, and MaxRetries are taken from defaults.
func WithDefaults(opts SubmitOptions) SubmitterOption {
	return func(s *Submitter) { s.defaults = opts }
}

// NewSubmitter creates a Submitter backed by client.
func NewSubmitter(client *Client, logger *slog.Logger, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		client:       client,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitBatches flattens several instruction batches into one transaction and submits it.
func (s *Submitter) SubmitBatches(
	ctx context.Context,
	batches [][]solana.Instruction,
	signers []solana.PrivateKey,
	payer Payer,
	opts SubmitOptions,
) (*SubmissionResult, error) {
	var flat []solana.Instruction
	for _, batch := range batches {
		flat = append(flat, batch...)
	}
	return s.Submit(ctx, flat, signers, payer, opts)
}

// Submit builds a transaction from batch, signs it with signers and payer,
// broadcasts it and waits for the confirmation commitment.
//
// On SubmissionError or ExpiredError the result is returned together with the
// error so the caller still has the signature.
func (s *Submitter) Submit(
	ctx context.Context,
	batch []solana.Instruction,
	signers []solana.PrivateKey,
	payer Payer,
	opts SubmitOptions,
) (*SubmissionResult, error) {
	opts = s.withDefaults(opts)
	kind := payer.Kind().String()

	if len(batch) == 0 {
		return nil, ErrNoInstructions
	}
	if err := payer.validate(); err != nil {
		return nil, err
	}
	if err := validateSigners(signers); err != nil {
		return nil, err
	}

	tx, blockhash, err := s.build(ctx, batch, payer, opts)
	if err != nil {
		s.metrics.RecordSubmission(kind, "build_error")
		return nil, err
	}

	if err := s.sign(ctx, tx, signers, payer); err != nil {
		s.metrics.RecordSubmission(kind, "sign_error")
		return nil, err
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		s.metrics.RecordSubmission(kind, "build_error")
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	sig, err := s.client.SendRawTransaction(ctx, raw, rpc.TransactionOpts{
		Encoding:            solana.EncodingBase64,
		SkipPreflight:       !opts.Preflight,
		PreflightCommitment: opts.PreflightCommitment,
		MaxRetries:          opts.MaxRetries,
	})
	if err != nil {
		s.metrics.RecordSubmission(kind, "send_error")
		return nil, err
	}

	s.logger.DebugContext(ctx, "transaction sent",
		"signature", sig.String(),
		"payer", payer.PublicKey().String(),
		"signer_kind", kind,
		"size", len(raw),
	)

	s.runPostSubmit(ctx, opts.PostSubmit, sig)

	result, err := s.confirm(ctx, sig, blockhash, opts.ConfirmationCommitment)
	switch {
	case err == nil:
		s.metrics.RecordSubmission(kind, "confirmed")
	case result != nil && result.Status == StatusFailed:
		s.metrics.RecordSubmission(kind, "failed")
	default:
		s.metrics.RecordSubmission(kind, "unconfirmed")
	}
	return result, err
}

func (s *Submitter) withDefaults(opts SubmitOptions) SubmitOptions {
	if opts.PriorityFee == 0 {
		opts.PriorityFee = s.defaults.PriorityFee
	}
	if opts.PreflightCommitment == "" {
		opts.PreflightCommitment = s.defaults.PreflightCommitment
	}
	if opts.PreflightCommitment == "" {
		opts.PreflightCommitment = rpc.CommitmentProcessed
	}
	if opts.ConfirmationCommitment == "" {
		opts.ConfirmationCommitment = s.defaults.ConfirmationCommitment
	}
	if opts.ConfirmationCommitment == "" {
		opts.ConfirmationCommitment = rpc.CommitmentProcessed
	}
	if opts.MaxRetries == nil {
		opts.MaxRetries = s.defaults.MaxRetries
	}
	return opts
}

// build compiles the transaction and reserves zeroed signature slots so the
// serialized size is exact.
func (s *Submitter) build(
	ctx context.Context,
	batch []solana.Instruction,
	payer Payer,
	opts SubmitOptions,
) (*solana.Transaction, Blockhash, error) {
	ixs := make([]solana.Instruction, 0, len(batch)+1)
	if opts.PriorityFee > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitPriceInstruction(opts.PriorityFee).Build())
	}
	ixs = append(ixs, batch...)

	var blockhash Blockhash
	if opts.Blockhash != nil {
		blockhash = *opts.Blockhash
	} else {
		var err error
		blockhash, err = s.client.LatestBlockhash(ctx, opts.PreflightCommitment)
		if err != nil {
			return nil, Blockhash{}, err
		}
	}

	txOpts := []solana.TransactionOption{solana.TransactionPayer(payer.PublicKey())}
	if len(opts.LookupTables) > 0 {
		txOpts = append(txOpts, solana.TransactionAddressTables(opts.LookupTables))
	}
	tx, err := solana.NewTransaction(ixs, blockhash.Hash, txOpts...)
	if err != nil {
		return nil, Blockhash{}, fmt.Errorf("failed to compile transaction: %w", err)
	}

	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, Blockhash{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	version := "legacy"
	if tx.Message.IsVersioned() {
		version = "v0"
	}
	s.metrics.RecordSubmissionSize(version, len(raw))

	if len(raw) > MaxTransactionSize {
		return nil, Blockhash{}, &TransactionSizeError{
			Size:         len(raw),
			Max:          MaxTransactionSize,
			Instructions: len(ixs),
		}
	}
	return tx, blockhash, nil
}

// sign fills every required signature slot. Local signers sign first, then the
// payer signs according to its capability tag.
func (s *Submitter) sign(
	ctx context.Context,
	tx *solana.Transaction,
	signers []solana.PrivateKey,
	payer Payer,
) error {
	keys := make(map[solana.PublicKey]solana.PrivateKey, len(signers)+1)
	for _, k := range signers {
		keys[k.PublicKey()] = k
	}
	payerKey := payer.PublicKey()
	if payer.Kind() == SignerLocal {
		keys[payerKey] = payer.key
	}

	required := tx.Message.AccountKeys[:tx.Message.Header.NumRequiredSignatures]
	for _, account := range required {
		if _, ok := keys[account]; ok {
			continue
		}
		if payer.Kind() == SignerInteractive && account.Equals(payerKey) {
			continue
		}
		return &MissingSignerError{Account: account}
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	for i, account := range required {
		key, ok := keys[account]
		if !ok {
			continue
		}
		sig, err := key.Sign(msg)
		if err != nil {
			return fmt.Errorf("failed to sign for %s: %w", account, err)
		}
		tx.Signatures[i] = sig
	}

	if payer.Kind() == SignerInteractive {
		signed, err := payer.interactive.SignTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("interactive signer %s failed: %w", payerKey, err)
		}
		if signed == nil {
			return fmt.Errorf("interactive signer %s returned no transaction", payerKey)
		}
		*tx = *signed
	}

	for i, account := range required {
		if i >= len(tx.Signatures) || tx.Signatures[i] == (solana.Signature{}) {
			return &MissingSignerError{Account: account}
		}
	}
	return nil
}

func (s *Submitter) runPostSubmit(ctx context.Context, fn PostSubmitFunc, sig solana.Signature) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.WarnContext(ctx, "post-submit callback panicked",
				"signature", sig.String(),
				"panic", fmt.Sprint(r),
			)
			s.metrics.RecordPostSubmitCallbackFailure("panic")
		}
	}()
	if err := fn(ctx, sig); err != nil {
		s.logger.WarnContext(ctx, "post-submit callback failed",
			"signature", sig.String(),
			"error", err,
		)
		s.metrics.RecordPostSubmitCallbackFailure("error")
	}
}
