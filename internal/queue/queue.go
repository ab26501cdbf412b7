// Package queue implements the concurrency-safe staging area for admitted,
// not-yet-sequenced submissions. Entries leave the queue only by being drained
// into a block or by exceeding the configured residency limit.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/manifest-network/seqd/internal/models"
)

var (
	// ErrQueueFull signals backpressure: the configured capacity is exhausted.
	ErrQueueFull = errors.New("submission queue is full")

	// ErrDuplicateMember is returned when a submitted transaction identity is
	// already staged or part of an in-flight (drained, not yet finalized) batch.
	ErrDuplicateMember = errors.New("duplicate transaction identity")
)

// Queue is a bounded FIFO of sequencing entries. Admit and Drain serialize on
// one mutex; independent publishers contend only for the brief insert.
type Queue struct {
	mu       sync.Mutex
	entries  []models.Entry
	bytes    int64
	nextSeq  uint64
	capacity int
	maxAge   time.Duration

	// members covers staged entries; inflight covers drained batches awaiting
	// finalization. Both are consulted for duplicate detection.
	members  map[models.TxID]struct{}
	inflight map[models.TxID]struct{}

	now func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAge discards entries older than d during Drain. Zero disables the limit.
func WithMaxAge(d time.Duration) Option {
	return func(q *Queue) { q.maxAge = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue holding at most capacity entries.
func New(capacity int, opts ...Option) *Queue {
	q := &Queue{
		capacity: capacity,
		members:  make(map[models.TxID]struct{}),
		inflight: make(map[models.TxID]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Admit stages an entry at the tail, assigning its admission sequence and
// timestamp. The entry's transaction identities must not collide with any
// staged or in-flight transaction.
func (q *Queue) Admit(e models.Entry) (models.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		return models.Entry{}, ErrQueueFull
	}
	for _, tx := range e.Txs {
		if _, ok := q.members[tx.ID]; ok {
			return models.Entry{}, fmt.Errorf("%w: %s", ErrDuplicateMember, tx.ID)
		}
		if _, ok := q.inflight[tx.ID]; ok {
			return models.Entry{}, fmt.Errorf("%w: %s (in flight)", ErrDuplicateMember, tx.ID)
		}
	}

	e.Seq = q.nextSeq
	e.AdmittedAt = q.now()
	q.nextSeq++
	q.entries = append(q.entries, e)
	q.bytes += e.Size()
	for _, tx := range e.Txs {
		q.members[tx.ID] = struct{}{}
	}
	return e, nil
}

// Drain atomically removes and returns up to maxEntries entries (and roughly
// maxBytes payload bytes) from the head, preserving relative order. A non-empty
// queue always yields at least one entry, even if that entry alone exceeds
// maxBytes. Drained transactions move to the in-flight set until Release or
// Requeue. Entries past the residency limit are dropped, not returned.
func (q *Queue) Drain(maxEntries int, maxBytes int64) []models.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.expireLocked()

	var (
		out   []models.Entry
		taken int64
	)
	for len(q.entries) > 0 && len(out) < maxEntries {
		head := q.entries[0]
		size := head.Size()
		if len(out) > 0 && maxBytes > 0 && taken+size > maxBytes {
			break
		}
		q.entries = q.entries[1:]
		q.bytes -= size
		taken += size
		for _, tx := range head.Txs {
			delete(q.members, tx.ID)
			q.inflight[tx.ID] = struct{}{}
		}
		out = append(out, head)
	}
	return out
}

// Release drops in-flight membership for a successfully sequenced batch.
func (q *Queue) Release(entries []models.Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		for _, tx := range e.Txs {
			delete(q.inflight, tx.ID)
		}
	}
}

// Requeue restores a failed batch to the head of the queue in its original
// order. Capacity is not re-checked: the batch was already admitted once and
// must not be dropped.
func (q *Queue) Requeue(entries []models.Entry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	restored := make([]models.Entry, 0, len(entries)+len(q.entries))
	restored = append(restored, entries...)
	restored = append(restored, q.entries...)
	q.entries = restored
	for _, e := range entries {
		q.bytes += e.Size()
		for _, tx := range e.Txs {
			delete(q.inflight, tx.ID)
			q.members[tx.ID] = struct{}{}
		}
	}
}

// expireLocked drops entries older than the residency limit. Caller holds mu.
func (q *Queue) expireLocked() {
	if q.maxAge <= 0 {
		return
	}
	cutoff := q.now().Add(-q.maxAge)
	for len(q.entries) > 0 && q.entries[0].AdmittedAt.Before(cutoff) {
		head := q.entries[0]
		q.entries = q.entries[1:]
		q.bytes -= head.Size()
		for _, tx := range head.Txs {
			delete(q.members, tx.ID)
		}
	}
}

// Len returns the number of staged entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Bytes returns the total staged payload bytes.
func (q *Queue) Bytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}
