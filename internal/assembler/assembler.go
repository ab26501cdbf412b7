// Package assembler turns staged submissions into blocks. A single assembler
// goroutine drains the queue on a size or time trigger and appends the result
// to the block log; single-writer discipline keeps heights contiguous.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/manifest-network/seqd/internal/blocklog"
	"github.com/manifest-network/seqd/internal/metrics"
	"github.com/manifest-network/seqd/internal/models"
	"github.com/manifest-network/seqd/internal/queue"
)

// Config bounds block size and assembly cadence.
type Config struct {
	// MaxEntries and MaxBytes cap a single block. The size trigger fires when
	// either threshold is reached by staged entries.
	MaxEntries int
	MaxBytes   int64

	// Interval is the time trigger: a non-empty queue never waits longer than
	// this for a block.
	Interval time.Duration

	// FailureThreshold is the number of consecutive append failures after
	// which the sequencer fails closed. Zero means never.
	FailureThreshold int
}

// Assembler drains the submission queue into blocks.
type Assembler struct {
	cfg     Config
	queue   *queue.Queue
	store   blocklog.Store
	onBlock func(*models.Block)
	metrics *metrics.Metrics
	logger  *slog.Logger

	kick     chan struct{}
	failures int
	degraded atomic.Bool
}

// New creates an assembler. onBlock is invoked after every successful append,
// outside the queue lock; the facade uses it to wake parked consumers.
func New(cfg Config, q *queue.Queue, store blocklog.Store, onBlock func(*models.Block), m *metrics.Metrics, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		cfg:     cfg,
		queue:   q,
		store:   store,
		onBlock: onBlock,
		metrics: m,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// Kick requests an immediate assembly pass. Used by the facade when staged
// entries reach the size thresholds; coalesces with pending kicks.
func (a *Assembler) Kick() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Degraded reports whether the assembler has failed closed after repeated
// append failures. The facade refuses new admissions while degraded.
func (a *Assembler) Degraded() bool {
	return a.degraded.Load()
}

// Run drives the assembly loop until ctx is cancelled. One final pass runs on
// shutdown so entries admitted just before the stop are not stranded.
func (a *Assembler) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.assemble(context.Background()); err != nil {
				a.logger.Error("Final assembly pass failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
		case <-a.kick:
		}

		if err := a.assemble(ctx); err != nil {
			a.logger.Error("Assembly cycle failed", "error", err)
		}
	}
}

// assemble performs one drain-build-append cycle. A drain that yields nothing
// produces no block. A failed append restores the batch to the queue head in
// its original order and leaves the error for the next trigger.
func (a *Assembler) assemble(ctx context.Context) error {
	entries := a.queue.Drain(a.cfg.MaxEntries, a.cfg.MaxBytes)
	a.observeQueue()
	if len(entries) == 0 {
		return nil
	}

	started := time.Now()
	height, parent, err := a.nextHeight(ctx)
	if err != nil {
		a.queue.Requeue(entries)
		a.recordFailure()
		return fmt.Errorf("failed to read log tip: %w", err)
	}

	block := models.NewBlock(height, parent, started.UTC(), entries)
	if err := a.store.Append(ctx, block); err != nil {
		a.queue.Requeue(entries)
		a.recordFailure()
		return fmt.Errorf("failed to append block %d: %w", height, err)
	}

	a.queue.Release(entries)
	a.failures = 0
	a.degraded.Store(false)

	a.metrics.BlocksTotal.Inc()
	a.metrics.EntriesTotal.Add(float64(len(entries)))
	a.metrics.TipHeight.Set(float64(height))
	a.metrics.AssemblyDuration.Observe(time.Since(started).Seconds())
	a.observeQueue()

	a.logger.Info("Block sequenced", "height", height, "entries", len(entries), "id", block.ID)
	if a.onBlock != nil {
		a.onBlock(block)
	}
	return nil
}

func (a *Assembler) nextHeight(ctx context.Context) (uint64, models.BlockID, error) {
	tip, err := a.store.Tip(ctx)
	if errors.Is(err, blocklog.ErrEmpty) {
		return 0, models.BlockID{}, nil
	}
	if err != nil {
		return 0, models.BlockID{}, err
	}
	return tip.Height + 1, tip.ID, nil
}

func (a *Assembler) recordFailure() {
	a.metrics.AppendFailures.Inc()
	a.failures++
	if a.cfg.FailureThreshold > 0 && a.failures >= a.cfg.FailureThreshold {
		if !a.degraded.Swap(true) {
			a.logger.Error("Sequencer failing closed after repeated append failures", "failures", a.failures)
		}
	}
}

func (a *Assembler) observeQueue() {
	a.metrics.QueueDepth.Set(float64(a.queue.Len()))
	a.metrics.QueueBytes.Set(float64(a.queue.Bytes()))
}
