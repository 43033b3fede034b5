package solana

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// AccountSubscription delivers change notifications for one account.
// Recv blocks until a notification arrives, the subscription fails, or ctx is done.
// Unsubscribe must be safe to call once the subscription has already failed.
type AccountSubscription interface {
	Recv(ctx context.Context) (*AccountUpdate, error)
	Unsubscribe()
}

// AccountSubscriber opens account change subscriptions.
type AccountSubscriber interface {
	SubscribeAccount(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (AccountSubscription, error)
}

// WSSubscriber implements AccountSubscriber over a solana-go websocket client.
type WSSubscriber struct {
	client *ws.Client
}

// DialSubscriber connects to a websocket RPC endpoint.
func DialSubscriber(ctx context.Context, wsURL string) (*WSSubscriber, error) {
	client, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket %s: %w", wsURL, err)
	}
	return &WSSubscriber{client: client}, nil
}

// SubscribeAccount opens an accountSubscribe stream. ctx only bounds the subscribe request.
func (s *WSSubscriber) SubscribeAccount(
	ctx context.Context,
	address solana.PublicKey,
	commitment rpc.CommitmentType,
) (AccountSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := s.client.AccountSubscribe(address, commitment)
	if err != nil {
		return nil, err
	}
	return &wsAccountSubscription{address: address, sub: sub}, nil
}

// Close closes the underlying websocket connection.
func (s *WSSubscriber) Close() {
	s.client.Close()
}

type wsAccountSubscription struct {
	address solana.PublicKey
	sub     *ws.AccountSubscription
	once    sync.Once
}

func (w *wsAccountSubscription) Recv(ctx context.Context) (*AccountUpdate, error) {
	res, err := w.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("subscription closed")
	}
	update := &AccountUpdate{
		Address:  w.address,
		Slot:     res.Context.Slot,
		Lamports: res.Value.Lamports,
		Owner:    res.Value.Owner,
	}
	if res.Value.Data != nil {
		update.Data = res.Value.Data.GetBinary()
	}
	return update, nil
}

func (w *wsAccountSubscription) Unsubscribe() {
	w.once.Do(w.sub.Unsubscribe)
}
