// Package notify coordinates block-append notifications between the assembler
// and parked consumers.
package notify

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned to waiters released by a graceful shutdown.
var ErrClosed = errors.New("beacon closed")

// Beacon tracks the highest announced block height and wakes every waiter
// whose cursor is behind it. Wakeups are broadcast: one consumer's wakeup
// never consumes another's.
type Beacon struct {
	mu      sync.Mutex
	tip     uint64
	started bool
	closed  bool
	advance chan struct{}
}

// NewBeacon creates a beacon with no announced height yet.
func NewBeacon() *Beacon {
	return &Beacon{advance: make(chan struct{})}
}

// Advance announces a new tip height and wakes all current waiters.
// Heights must be announced in increasing order; stale announcements are ignored.
func (b *Beacon) Advance(height uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.started && height <= b.tip {
		return
	}
	b.tip = height
	b.started = true
	close(b.advance)
	b.advance = make(chan struct{})
}

// Wait blocks until the announced tip reaches at least from, then returns it.
// It returns ctx.Err() on cancellation and ErrClosed after Close. A tip
// already at or past from returns immediately.
func (b *Beacon) Wait(ctx context.Context, from uint64) (uint64, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return 0, ErrClosed
		}
		if b.started && b.tip >= from {
			tip := b.tip
			b.mu.Unlock()
			return tip, nil
		}
		ch := b.advance
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ch:
		}
	}
}

// Close releases all waiters with ErrClosed. Further Advance calls are no-ops.
func (b *Beacon) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.advance)
}
