package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/ledgersync/service/db"
	natspkg "github.com/brojonat/ledgersync/service/nats"
	"github.com/brojonat/ledgersync/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock Submitter
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, batch []solanago.Instruction, signers []solanago.PrivateKey, payer solana.Payer, opts solana.SubmitOptions) (*solana.SubmissionResult, error) {
	args := m.Called(ctx, batch, signers, payer, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*solana.SubmissionResult), args.Error(1)
}

// Mock Awaiter
type MockAwaiter struct {
	mock.Mock
}

func (m *MockAwaiter) AwaitView(ctx context.Context, address solanago.PublicKey, commitment rpc.CommitmentType, fields []solana.DecimalField, predicate func(*solana.AccountView) bool, timeout time.Duration) (*solana.AccountView, error) {
	args := m.Called(ctx, address, commitment, fields, predicate, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*solana.AccountView), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSubmission(ctx context.Context, params db.CreateSubmissionParams) (*db.Submission, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Submission), args.Error(1)
}

func (m *MockStore) UpdateSubmissionStatus(ctx context.Context, params db.UpdateSubmissionStatusParams) (*db.Submission, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Submission), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoInput(t *testing.T, payer solanago.PublicKey) SubmitTransactionInput {
	t.Helper()
	spec, err := NewInstructionSpec(MemoInstruction(payer, "hello"))
	require.NoError(t, err)
	return SubmitTransactionInput{
		Instructions: []InstructionSpec{spec},
		Commitment:   "confirmed",
		WorkflowID:   "wf-1",
	}
}

func requireAppError(t *testing.T, err error, errType string, nonRetryable bool) {
	t.Helper()
	var appErr *temporalsdk.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errType, appErr.Type())
	assert.Equal(t, nonRetryable, appErr.NonRetryable())
}

type activityDeps struct {
	submitter *MockSubmitter
	awaiter   *MockAwaiter
	store     *MockStore
	publisher *natspkg.MockPublisher
	payer     solana.Payer
}

func newTestActivities() (*Activities, *activityDeps) {
	deps := &activityDeps{
		submitter: &MockSubmitter{},
		awaiter:   &MockAwaiter{},
		store:     &MockStore{},
		publisher: natspkg.NewMockPublisher(),
		payer:     solana.LocalPayer(solanago.NewWallet().PrivateKey),
	}
	acts := NewActivities(deps.submitter, deps.awaiter, deps.store, deps.publisher, deps.payer, nil, testLogger())
	return acts, deps
}

func TestActivities_SubmitTransaction(t *testing.T) {
	acts, deps := newTestActivities()
	input := memoInput(t, deps.payer.PublicKey())
	sig := solanago.Signature{7, 7, 7}

	deps.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			batch := args.Get(1).([]solanago.Instruction)
			require.Len(t, batch, 1)
			assert.Equal(t, solanago.MemoProgramID, batch[0].ProgramID())

			opts := args.Get(4).(solana.SubmitOptions)
			assert.Equal(t, rpc.CommitmentConfirmed, opts.ConfirmationCommitment)
			require.NotNil(t, opts.PostSubmit)
			require.NoError(t, opts.PostSubmit(context.Background(), sig))
		}).
		Return(&solana.SubmissionResult{
			Signature:            sig,
			Status:               solana.StatusConfirmed,
			Slot:                 42,
			Commitment:           rpc.CommitmentConfirmed,
			LastValidBlockHeight: 300,
		}, nil)

	deps.store.On("CreateSubmission", mock.Anything, mock.MatchedBy(func(p db.CreateSubmissionParams) bool {
		return p.Signature == sig.String() && p.Status == "pending" && p.SignerKind == "local" &&
			p.WorkflowID != nil && *p.WorkflowID == "wf-1"
	})).Return(&db.Submission{}, nil)
	deps.store.On("UpdateSubmissionStatus", mock.Anything, mock.MatchedBy(func(p db.UpdateSubmissionStatusParams) bool {
		return p.Signature == sig.String() && p.Status == "confirmed" && p.Slot == 42 &&
			p.LastValidBlockHeight == 300 && p.Error == nil
	})).Return(&db.Submission{}, nil)

	result, err := acts.SubmitTransaction(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, sig.String(), result.Signature)
	assert.Equal(t, "confirmed", result.Status)
	assert.Equal(t, uint64(42), result.Slot)

	events := deps.publisher.SubmissionEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "pending", events[0].Status)
	assert.Equal(t, "confirmed", events[1].Status)
	assert.Equal(t, "wf-1", events[1].WorkflowID)

	deps.submitter.AssertExpectations(t)
	deps.store.AssertExpectations(t)
}

func TestActivities_SubmitTransaction_Failures(t *testing.T) {
	sig := solanago.Signature{9}

	tests := []struct {
		name          string
		result        *solana.SubmissionResult
		err           error
		journalStatus string
		errType       string
		nonRetryable  bool
	}{
		{
			name:          "executed with error",
			result:        &solana.SubmissionResult{Signature: sig, Status: solana.StatusFailed, Slot: 5},
			err:           &solana.SubmissionError{Signature: sig, Status: `{"InstructionError":[0,"InvalidArgument"]}`},
			journalStatus: "failed",
			errType:       ErrTypeSubmissionFailed,
			nonRetryable:  true,
		},
		{
			name:          "blockhash expired",
			result:        &solana.SubmissionResult{Signature: sig, Status: solana.StatusPending, LastValidBlockHeight: 10},
			err:           &solana.ExpiredError{Signature: sig, LastValidBlockHeight: 10, BlockHeight: 11},
			journalStatus: "expired",
			errType:       ErrTypeBlockhashExpired,
			nonRetryable:  false,
		},
		{
			name:         "sent but unresolved",
			result:       &solana.SubmissionResult{Signature: sig, Status: solana.StatusPending},
			err:          context.DeadlineExceeded,
			errType:      ErrTypeUnconfirmed,
			nonRetryable: true,
		},
		{
			name:         "too large",
			err:          &solana.TransactionSizeError{Size: 2000, Max: solana.MaxTransactionSize},
			errType:      ErrTypeInvalidInput,
			nonRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acts, deps := newTestActivities()
			input := memoInput(t, deps.payer.PublicKey())

			deps.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(tt.result, tt.err)
			if tt.journalStatus != "" {
				deps.store.On("UpdateSubmissionStatus", mock.Anything, mock.MatchedBy(func(p db.UpdateSubmissionStatusParams) bool {
					return p.Status == tt.journalStatus && p.Error != nil
				})).Return(&db.Submission{}, nil)
			}

			result, err := acts.SubmitTransaction(context.Background(), input)
			assert.Nil(t, result)
			requireAppError(t, err, tt.errType, tt.nonRetryable)

			if tt.journalStatus != "" {
				deps.store.AssertExpectations(t)
				events := deps.publisher.SubmissionEvents()
				require.Len(t, events, 1)
				assert.Equal(t, tt.journalStatus, events[0].Status)
				assert.NotEmpty(t, events[0].Error)
			} else {
				deps.store.AssertNotCalled(t, "UpdateSubmissionStatus", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestActivities_SubmitTransaction_SendError(t *testing.T) {
	acts, deps := newTestActivities()
	input := memoInput(t, deps.payer.PublicKey())

	deps.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := acts.SubmitTransaction(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	var appErr *temporalsdk.ApplicationError
	assert.False(t, errors.As(err, &appErr), "transport errors use the default retry policy")
}

func TestActivities_SubmitTransaction_InvalidInput(t *testing.T) {
	acts, deps := newTestActivities()

	_, err := acts.SubmitTransaction(context.Background(), SubmitTransactionInput{
		Instructions: []InstructionSpec{{ProgramID: "not-a-key"}},
	})
	requireAppError(t, err, ErrTypeInvalidInput, true)

	input := memoInput(t, deps.payer.PublicKey())
	input.Commitment = "eventually"
	_, err = acts.SubmitTransaction(context.Background(), input)
	requireAppError(t, err, ErrTypeInvalidInput, true)

	deps.submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestActivities_SubmitTransaction_OptionalDependencies(t *testing.T) {
	submitter := &MockSubmitter{}
	payer := solana.LocalPayer(solanago.NewWallet().PrivateKey)
	acts := NewActivities(submitter, &MockAwaiter{}, nil, nil, payer, nil, testLogger())
	sig := solanago.Signature{1}

	submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			opts := args.Get(4).(solana.SubmitOptions)
			assert.NoError(t, opts.PostSubmit(context.Background(), sig))
		}).
		Return(&solana.SubmissionResult{Signature: sig, Status: solana.StatusConfirmed}, nil)

	result, err := acts.SubmitTransaction(context.Background(), memoInput(t, payer.PublicKey()))
	require.NoError(t, err)
	assert.Equal(t, sig.String(), result.Signature)
}

func TestActivities_SubmitTransaction_JournalFailureDoesNotFail(t *testing.T) {
	acts, deps := newTestActivities()
	sig := solanago.Signature{3}

	deps.submitter.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			opts := args.Get(4).(solana.SubmitOptions)
			assert.Error(t, opts.PostSubmit(context.Background(), sig))
		}).
		Return(&solana.SubmissionResult{Signature: sig, Status: solana.StatusConfirmed}, nil)
	deps.store.On("CreateSubmission", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	deps.store.On("UpdateSubmissionStatus", mock.Anything, mock.Anything).Return(nil, db.ErrNotFound)

	_, err := acts.SubmitTransaction(context.Background(), memoInput(t, deps.payer.PublicKey()))
	require.NoError(t, err)
}

func testAccount(lamports uint64) *solana.AccountUpdate {
	return &solana.AccountUpdate{
		Address:  solanago.NewWallet().PublicKey(),
		Slot:     77,
		Lamports: lamports,
		Owner:    solanago.SystemProgramID,
		Data:     []byte{1, 2, 3},
	}
}

func TestActivities_AwaitAccount_Matched(t *testing.T) {
	acts, deps := newTestActivities()
	account := testAccount(5)
	view, err := solana.NewAccountView(account, nil)
	require.NoError(t, err)

	deps.awaiter.On("AwaitView", mock.Anything, account.Address, rpc.CommitmentConfirmed, mock.Anything, mock.Anything, time.Duration(0)).
		Return(view, nil)

	result, err := acts.AwaitAccount(context.Background(), AwaitAccountInput{
		Address: account.Address.String(),
		JQ:      []string{".lamports >= 5"},
	})
	require.NoError(t, err)
	assert.Equal(t, "matched", result.Outcome)
	assert.Equal(t, uint64(77), result.Slot)
	require.NotNil(t, result.View)
	assert.Equal(t, uint64(5), result.View.Lamports)
	deps.awaiter.AssertExpectations(t)

	events := deps.publisher.AwaitEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "matched", events[0].Outcome)
	assert.NotEmpty(t, events[0].State)
}

func TestActivities_AwaitAccount_WaitsForChange(t *testing.T) {
	acts, deps := newTestActivities()
	account := testAccount(1)

	changed := testAccount(9)
	changed.Address = account.Address
	view, err := solana.NewAccountView(changed, nil)
	require.NoError(t, err)

	deps.awaiter.On("AwaitView", mock.Anything, account.Address, rpc.CommitmentFinalized, mock.Anything, mock.Anything, 10*time.Second).
		Run(func(args mock.Arguments) {
			predicate := args.Get(4).(func(*solana.AccountView) bool)
			assert.True(t, predicate(view))
		}).
		Return(view, nil)

	result, err := acts.AwaitAccount(context.Background(), AwaitAccountInput{
		Address:    account.Address.String(),
		Commitment: "finalized",
		JQ:         []string{".lamports > 5"},
		Timeout:    10 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "matched", result.Outcome)
	assert.Equal(t, uint64(9), result.View.Lamports)
	deps.awaiter.AssertExpectations(t)
}

func TestActivities_AwaitAccount_Timeout(t *testing.T) {
	acts, deps := newTestActivities()
	address := solanago.NewWallet().PublicKey()

	deps.awaiter.On("AwaitView", mock.Anything, address, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &solana.TimeoutError{Address: address, Timeout: time.Second, Notifications: 2})

	result, err := acts.AwaitAccount(context.Background(), AwaitAccountInput{Address: address.String()})
	require.NoError(t, err, "timeouts are reported through the outcome")
	assert.Equal(t, "timeout", result.Outcome)
	assert.Contains(t, result.Error, "did not satisfy condition")

	events := deps.publisher.AwaitEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "timeout", events[0].Outcome)
}

func TestActivities_AwaitAccount_Errors(t *testing.T) {
	address := solanago.NewWallet().PublicKey()

	tests := []struct {
		name         string
		err          error
		errType      string
		nonRetryable bool
	}{
		{
			name:         "decode error",
			err:          &solana.DecodeError{Address: address, Slot: 3, Err: errors.New("short data")},
			errType:      ErrTypeDecodeFailed,
			nonRetryable: true,
		},
		{
			name:         "subscription dropped",
			err:          &solana.SubscriptionError{Address: address, Err: errors.New("eof")},
			errType:      ErrTypeSubscriptionError,
			nonRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acts, deps := newTestActivities()
			deps.awaiter.On("AwaitView", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(nil, tt.err)

			result, err := acts.AwaitAccount(context.Background(), AwaitAccountInput{Address: address.String()})
			assert.Nil(t, result)
			requireAppError(t, err, tt.errType, tt.nonRetryable)
		})
	}
}

func TestActivities_AwaitAccount_InvalidInput(t *testing.T) {
	acts, deps := newTestActivities()
	address := solanago.NewWallet().PublicKey().String()

	inputs := []AwaitAccountInput{
		{Address: "nope"},
		{Address: address, Commitment: "soon"},
		{Address: address, DecimalFields: []string{"price"}},
		{Address: address, JQ: []string{".lamports >"}},
	}
	for _, input := range inputs {
		_, err := acts.AwaitAccount(context.Background(), input)
		requireAppError(t, err, ErrTypeInvalidInput, true)
	}

	deps.awaiter.AssertNotCalled(t, "AwaitView", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInstructionSpec_RoundTrip(t *testing.T) {
	signer := solanago.NewWallet().PublicKey()
	writable := solanago.NewWallet().PublicKey()
	ix := solanago.NewInstruction(
		solanago.MemoProgramID,
		solanago.AccountMetaSlice{
			solanago.Meta(signer).SIGNER(),
			solanago.Meta(writable).WRITE(),
		},
		[]byte("payload"),
	)

	spec, err := NewInstructionSpec(ix)
	require.NoError(t, err)
	assert.Equal(t, solanago.MemoProgramID.String(), spec.ProgramID)
	require.Len(t, spec.Accounts, 2)
	assert.True(t, spec.Accounts[0].Signer)
	assert.False(t, spec.Accounts[0].Writable)
	assert.True(t, spec.Accounts[1].Writable)

	rebuilt, err := ToInstructions([]InstructionSpec{spec})
	require.NoError(t, err)
	require.Len(t, rebuilt, 1)
	assert.Equal(t, solanago.MemoProgramID, rebuilt[0].ProgramID())
	data, err := rebuilt[0].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, writable, rebuilt[0].Accounts()[1].PublicKey)

	_, err = ToInstructions([]InstructionSpec{{ProgramID: spec.ProgramID, Accounts: []AccountMetaSpec{{PublicKey: "bad"}}}})
	assert.ErrorContains(t, err, "instruction 0")
}
