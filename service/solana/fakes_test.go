package solana

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRPC implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type fakeRPC struct {
	mu sync.Mutex

	blockhash    solana.Hash
	lastValid    uint64
	blockhashErr error

	// statuses are returned one per poll; the last entry repeats.
	statuses    []*rpc.SignatureStatusesResult
	statusCalls int
	height      uint64

	sendErr  error
	sent     [][]byte
	sendOpts []rpc.TransactionOpts

	account      *rpc.GetAccountInfoResult
	accountErrs  []error
	accountCalls int

	txResult *rpc.GetTransactionResult
	txErr    error
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if f.blockhashErr != nil {
		return nil, f.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            f.blockhash,
			LastValidBlockHeight: f.lastValid,
		},
	}, nil
}

func (f *fakeRPC) SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sent = append(f.sent, rawTx)
	f.sendOpts = append(f.sendOpts, opts)

	// First signature follows the one-byte signature count.
	var sig solana.Signature
	copy(sig[:], rawTx[1:65])
	return sig, nil
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var status *rpc.SignatureStatusesResult
	if len(f.statuses) > 0 {
		idx := min(f.statusCalls, len(f.statuses)-1)
		status = f.statuses[idx]
	}
	f.statusCalls++
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func (f *fakeRPC) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeRPC) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.accountCalls
	f.accountCalls++
	if call < len(f.accountErrs) && f.accountErrs[call] != nil {
		return nil, f.accountErrs[call]
	}
	return f.account, nil
}

func (f *fakeRPC) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if f.txErr != nil {
		return nil, f.txErr
	}
	return f.txResult, nil
}

func (f *fakeRPC) sentTransactions(t *testing.T) []*solana.Transaction {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*solana.Transaction, 0, len(f.sent))
	for _, raw := range f.sent {
		tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
		require.NoError(t, err)
		out = append(out, tx)
	}
	return out
}

func newTestClient(f *fakeRPC) *Client {
	c := NewClient(f, "test", nil, testLogger())
	c.retryBackoff = time.Millisecond
	return c
}

// fakeSubscription delivers whatever is pushed onto its channels.
type fakeSubscription struct {
	updates      chan *AccountUpdate
	errs         chan error
	unsubscribes atomic.Int32
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		updates: make(chan *AccountUpdate, 16),
		errs:    make(chan error, 1),
	}
}

func (s *fakeSubscription) Recv(ctx context.Context) (*AccountUpdate, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case u := <-s.updates:
		return u, nil
	case err := <-s.errs:
		return nil, err
	}
}

func (s *fakeSubscription) Unsubscribe() {
	s.unsubscribes.Add(1)
}

type fakeSubscriber struct {
	mu    sync.Mutex
	subs  map[solana.PublicKey]*fakeSubscription
	err   error
	calls int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subs: make(map[solana.PublicKey]*fakeSubscription)}
}

// subscription returns the subscription that will be handed out for address.
func (f *fakeSubscriber) subscription(address solana.PublicKey) *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[address]
	if !ok {
		sub = newFakeSubscription()
		f.subs[address] = sub
	}
	return sub
}

func (f *fakeSubscriber) SubscribeAccount(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (AccountSubscription, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.subscription(address), nil
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}
