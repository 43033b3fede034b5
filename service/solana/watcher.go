package solana

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/brojonat/ledgersync/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Watcher keeps long-lived account subscriptions and hands every notification
// to a callback. Unlike an await it has no predicate or timeout.
type Watcher struct {
	subscriber AccountSubscriber
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu   sync.Mutex
	subs map[solana.PublicKey]*watch
	wg   sync.WaitGroup
}

type watch struct {
	cancel context.CancelFunc
	sub    AccountSubscription
}

// NewWatcher creates an empty Watcher.
func NewWatcher(subscriber AccountSubscriber, m *metrics.Metrics, logger *slog.Logger) *Watcher {
	return &Watcher{
		subscriber: subscriber,
		logger:     logger,
		metrics:    m,
		subs:       make(map[solana.PublicKey]*watch),
	}
}

// Watch subscribes to address and calls onChange for each notification until
// the watch is removed or the subscription fails. Watching an address twice
// replaces the earlier watch.
func (w *Watcher) Watch(
	ctx context.Context,
	address solana.PublicKey,
	commitment rpc.CommitmentType,
	onChange func(*AccountUpdate),
) error {
	if commitment == "" {
		commitment = rpc.CommitmentProcessed
	}
	sub, err := w.subscriber.SubscribeAccount(ctx, address, commitment)
	if err != nil {
		return &SubscriptionError{Address: address, Err: err}
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &watch{cancel: cancel, sub: sub}

	// The goroutine is counted under mu so a concurrent Clear either sees the
	// entry and waits for it, or runs before it is registered.
	w.mu.Lock()
	if prev, ok := w.subs[address]; ok {
		w.stop(prev)
	}
	w.subs[address] = entry
	w.metrics.RecordSubscriptionChange("watcher", 1)
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.run(watchCtx, address, entry, onChange)
	}()
	return nil
}

func (w *Watcher) run(ctx context.Context, address solana.PublicKey, entry *watch, onChange func(*AccountUpdate)) {
	for {
		update, err := entry.sub.Recv(ctx)
		if err != nil {
			if !errors.Is(ctx.Err(), context.Canceled) {
				w.logger.WarnContext(ctx, "account watch ended",
					"address", address.String(),
					"error", err,
				)
			}
			w.remove(address, entry)
			return
		}
		onChange(update)
	}
}

// Remove stops watching address. It reports whether a watch existed.
func (w *Watcher) Remove(address solana.PublicKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.subs[address]
	if !ok {
		return false
	}
	delete(w.subs, address)
	w.stop(entry)
	return true
}

// Clear removes every watch and waits for their goroutines to exit.
func (w *Watcher) Clear() {
	w.mu.Lock()
	for address, entry := range w.subs {
		delete(w.subs, address)
		w.stop(entry)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Len returns the number of active watches.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// remove drops entry if it is still the registered watch for address.
func (w *Watcher) remove(address solana.PublicKey, entry *watch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subs[address] == entry {
		delete(w.subs, address)
		w.stop(entry)
	}
}

// stop must be called with mu held, once per entry.
func (w *Watcher) stop(entry *watch) {
	entry.cancel()
	entry.sub.Unsubscribe()
	w.metrics.RecordSubscriptionChange("watcher", -1)
}
