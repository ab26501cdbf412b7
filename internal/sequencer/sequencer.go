// Package sequencer exposes the publish/consume facade over the submission
// queue, block assembler and block log.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/manifest-network/seqd/internal/assembler"
	"github.com/manifest-network/seqd/internal/blocklog"
	"github.com/manifest-network/seqd/internal/bundle"
	"github.com/manifest-network/seqd/internal/metrics"
	"github.com/manifest-network/seqd/internal/models"
	"github.com/manifest-network/seqd/internal/notify"
	"github.com/manifest-network/seqd/internal/queue"
)

var (
	// ErrUnavailable is returned while the sequencer is failing closed after
	// repeated block log append failures.
	ErrUnavailable = errors.New("sequencer unavailable")

	// ErrClosed is returned for publishes after graceful shutdown.
	ErrClosed = errors.New("sequencer closed")
)

// Sequencer is the single-transaction surface. Publish returns on admission,
// not sequencing; callers wanting finality follow the block stream.
type Sequencer interface {
	Publish(ctx context.Context, tx models.Transaction) error
	WaitForNextBlock(ctx context.Context, from uint64) (*models.Block, error)
}

// BundleSequencer is the atomic-bundle surface. Both surfaces share one block
// log and one assembler, so consumers of either observe the same stream.
type BundleSequencer interface {
	PublishBundle(ctx context.Context, b models.Bundle) error
	WaitForNextBlock(ctx context.Context, from uint64) (*models.Block, error)
}

// Config carries the engine's tunables.
type Config struct {
	QueueCapacity    int
	QueueMaxAge      time.Duration
	MaxBlockEntries  int
	MaxBlockBytes    int64
	BlockInterval    time.Duration
	FailureThreshold int
}

// Engine wires the sequencing components together and implements both
// publish surfaces plus the read-only replay surface.
type Engine struct {
	cfg       Config
	queue     *queue.Queue
	store     blocklog.Store
	beacon    *notify.Beacon
	assembler *assembler.Assembler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	closed    atomic.Bool
}

// New builds an engine over the given store.
func New(cfg Config, store blocklog.Store, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:     cfg,
		queue:   queue.New(cfg.QueueCapacity, queue.WithMaxAge(cfg.QueueMaxAge)),
		store:   store,
		beacon:  notify.NewBeacon(),
		metrics: m,
		logger:  logger,
	}
	e.assembler = assembler.New(assembler.Config{
		MaxEntries:       cfg.MaxBlockEntries,
		MaxBytes:         cfg.MaxBlockBytes,
		Interval:         cfg.BlockInterval,
		FailureThreshold: cfg.FailureThreshold,
	}, e.queue, store, e.announce, m, logger)
	return e
}

// Run drives the background assembler until ctx is cancelled. Call Close
// afterwards to release parked consumers.
func (e *Engine) Run(ctx context.Context) error {
	// A restart resumes notifications from the persisted tip.
	if tip, err := e.store.Tip(ctx); err == nil {
		e.beacon.Advance(tip.Height)
		e.metrics.TipHeight.Set(float64(tip.Height))
	} else if !errors.Is(err, blocklog.ErrEmpty) {
		return fmt.Errorf("failed to read log tip: %w", err)
	}
	return e.assembler.Run(ctx)
}

// Close marks the engine shut down and releases all waiting consumers.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.beacon.Close()
}

// Publish admits a single transaction. Duplicate and capacity checks are the
// queue's; success means admission, not inclusion.
func (e *Engine) Publish(ctx context.Context, tx models.Transaction) error {
	return e.admit(ctx, models.Entry{Txs: []models.Transaction{tx}}, "transaction")
}

// PublishBundle validates an atomic bundle and admits it as a single entry,
// deferring member expansion to the execution collaborator.
func (e *Engine) PublishBundle(ctx context.Context, b models.Bundle) error {
	if err := bundle.Validate(b); err != nil {
		e.metrics.RejectedTotal.WithLabelValues(rejectionReason(err)).Inc()
		return err
	}
	return e.admit(ctx, models.Entry{Atomic: true, Txs: b.Txs}, "bundle")
}

func (e *Engine) admit(_ context.Context, entry models.Entry, kind string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.assembler.Degraded() {
		e.metrics.RejectedTotal.WithLabelValues("unavailable").Inc()
		return ErrUnavailable
	}
	if _, err := e.queue.Admit(entry); err != nil {
		e.metrics.RejectedTotal.WithLabelValues(rejectionReason(err)).Inc()
		return err
	}
	e.metrics.AdmittedTotal.WithLabelValues(kind).Inc()
	e.metrics.QueueDepth.Set(float64(e.queue.Len()))
	e.metrics.QueueBytes.Set(float64(e.queue.Bytes()))

	if e.queue.Len() >= e.cfg.MaxBlockEntries ||
		(e.cfg.MaxBlockBytes > 0 && e.queue.Bytes() >= e.cfg.MaxBlockBytes) {
		e.assembler.Kick()
	}
	return nil
}

// WaitForNextBlock returns the block at height from, catching up from the log
// when it already exists and parking on the append notification otherwise.
// Repeated calls with from advanced past each returned block deliver the
// stream gap-free in strictly increasing order. It returns (nil, nil) only on
// graceful shutdown; cancellation surfaces ctx.Err().
func (e *Engine) WaitForNextBlock(ctx context.Context, from uint64) (*models.Block, error) {
	block, err := e.store.Get(ctx, from)
	if err == nil {
		return block, nil
	}
	if !errors.Is(err, blocklog.ErrNotFound) {
		return nil, fmt.Errorf("failed to read block %d: %w", from, err)
	}

	if _, err := e.beacon.Wait(ctx, from); err != nil {
		if errors.Is(err, notify.ErrClosed) {
			return nil, nil
		}
		return nil, err
	}
	block, err = e.store.Get(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read announced block %d: %w", from, err)
	}
	return block, nil
}

// Get returns the block at the given height, for consumer replay.
func (e *Engine) Get(ctx context.Context, height uint64) (*models.Block, error) {
	return e.store.Get(ctx, height)
}

// Tip returns the newest block in the log.
func (e *Engine) Tip(ctx context.Context) (*models.Block, error) {
	return e.store.Tip(ctx)
}

// announce publishes a freshly appended block to parked consumers.
func (e *Engine) announce(b *models.Block) {
	e.beacon.Advance(b.Height)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, queue.ErrDuplicateMember):
		return "duplicate"
	case errors.Is(err, bundle.ErrEmptyBundle):
		return "empty_bundle"
	case errors.Is(err, bundle.ErrInternalDuplicate):
		return "internal_duplicate"
	default:
		return "other"
	}
}
