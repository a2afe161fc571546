// Package throttle bounds concurrent language-model generations. A
// weighted semaphore enforces the in-process ceiling; an optional
// SlotStore extends the same ceiling across several service instances
// through a shared compare-and-increment counter.
package throttle

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sqlsage/sqlsage/internal/observability"
)

const storePollInterval = 100 * time.Millisecond

// SlotStore is a shared slot counter for multi-instance deployments.
// TryAcquire must only succeed while fewer than ceiling slots are held,
// using compare-and-increment semantics on the backing store.
type SlotStore interface {
	TryAcquire(ctx context.Context, ceiling int) (bool, error)
	Release(ctx context.Context) error
}

type Throttle struct {
	sem         *semaphore.Weighted
	ceiling     int
	waitTimeout time.Duration
	store       SlotStore
	logger      *slog.Logger

	held      atomic.Int64
	storeHeld atomic.Int64
}

func New(maxConcurrent int, waitTimeout time.Duration, logger *slog.Logger) *Throttle {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		ceiling:     maxConcurrent,
		waitTimeout: waitTimeout,
		logger:      logger,
	}
}

// WithSlotStore attaches a shared counter store. Store outages fail
// open: the local semaphore keeps limiting this process while the
// shared check is skipped.
func (t *Throttle) WithSlotStore(store SlotStore) *Throttle {
	t.store = store
	return t
}

// Acquire blocks until a generation slot frees or the wait timeout
// elapses, returning false on timeout. Callers must pair every
// successful Acquire with exactly one Release.
func (t *Throttle) Acquire(ctx context.Context) bool {
	start := time.Now()
	waitCtx := ctx
	if t.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.waitTimeout)
		defer cancel()
	}

	if err := t.sem.Acquire(waitCtx, 1); err != nil {
		observability.IncrementThrottleTimeout()
		return false
	}

	if t.store != nil && !t.acquireShared(waitCtx) {
		t.sem.Release(1)
		observability.IncrementThrottleTimeout()
		return false
	}

	t.held.Add(1)
	observability.ObserveThrottleWait(time.Since(start))
	return true
}

func (t *Throttle) acquireShared(ctx context.Context) bool {
	for {
		ok, err := t.store.TryAcquire(ctx, t.ceiling)
		if err != nil {
			t.logger.Warn("throttle slot store unavailable, proceeding on local limit", "error", err)
			return true
		}
		if ok {
			t.storeHeld.Add(1)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(storePollInterval):
		}
	}
}

// Release frees a slot. Calling it without a matching successful
// Acquire is a no-op.
func (t *Throttle) Release() {
	for {
		held := t.held.Load()
		if held <= 0 {
			return
		}
		if t.held.CompareAndSwap(held, held-1) {
			break
		}
	}

	t.sem.Release(1)

	if t.store == nil {
		return
	}
	for {
		held := t.storeHeld.Load()
		if held <= 0 {
			return
		}
		if !t.storeHeld.CompareAndSwap(held, held-1) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.store.Release(ctx); err != nil {
			t.logger.Warn("release shared throttle slot", "error", err)
		}
		return
	}
}
