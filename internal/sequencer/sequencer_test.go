package sequencer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/seqd/internal/blocklog"
	"github.com/manifest-network/seqd/internal/bundle"
	"github.com/manifest-network/seqd/internal/metrics"
	"github.com/manifest-network/seqd/internal/models"
	"github.com/manifest-network/seqd/internal/queue"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.MaxBlockEntries == 0 {
		cfg.MaxBlockEntries = 64
	}
	if cfg.BlockInterval == 0 {
		cfg.BlockInterval = 20 * time.Millisecond
	}
	e := New(cfg, blocklog.NewMemory(), metrics.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		e.Close()
	})
	return e
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPublishThenWait(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := waitCtx(t)

	tx := models.NewTransaction("evm", []byte("hello"))
	require.NoError(t, e.Publish(ctx, tx))

	block, err := e.WaitForNextBlock(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, uint64(0), block.Height)
	require.Len(t, block.Entries, 1)
	assert.Equal(t, tx.ID, block.Entries[0].Txs[0].ID)
}

func TestSizeThresholdSplitsBlocks(t *testing.T) {
	// Size threshold 2: T1 and T2 form the first block, T3 waits for the
	// time threshold and lands alone in the second. The interval is long
	// enough that the timer cannot fire between the publishes.
	e := newTestEngine(t, Config{MaxBlockEntries: 2, BlockInterval: 250 * time.Millisecond})
	ctx := waitCtx(t)

	t1 := models.NewTransaction("evm", []byte("t1"))
	t2 := models.NewTransaction("evm", []byte("t2"))
	t3 := models.NewTransaction("evm", []byte("t3"))
	require.NoError(t, e.Publish(ctx, t1))
	require.NoError(t, e.Publish(ctx, t2))
	require.NoError(t, e.Publish(ctx, t3))

	first, err := e.WaitForNextBlock(ctx, 0)
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	assert.Equal(t, t1.ID, first.Entries[0].Txs[0].ID)
	assert.Equal(t, t2.ID, first.Entries[1].Txs[0].ID)

	second, err := e.WaitForNextBlock(ctx, first.Height+1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Height)
	require.Len(t, second.Entries, 1)
	assert.Equal(t, t3.ID, second.Entries[0].Txs[0].ID)
}

func TestBundleAndStandaloneShareABlock(t *testing.T) {
	e := newTestEngine(t, Config{MaxBlockEntries: 3, BlockInterval: 250 * time.Millisecond})
	ctx := waitCtx(t)

	t4 := models.NewTransaction("evm", []byte("t4"))
	t5 := models.NewTransaction("evm", []byte("t5"))
	t6 := models.NewTransaction("evm", []byte("t6"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.PublishBundle(ctx, models.Bundle{Txs: []models.Transaction{t4, t5}}))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, e.Publish(ctx, t6))
	}()
	wg.Wait()

	block, err := e.WaitForNextBlock(ctx, 0)
	require.NoError(t, err)
	require.Len(t, block.Entries, 2)

	var bundleEntry *models.Entry
	for i := range block.Entries {
		if block.Entries[i].Atomic {
			bundleEntry = &block.Entries[i]
		}
	}
	require.NotNil(t, bundleEntry, "bundle sequenced as a single entry")
	require.Len(t, bundleEntry.Txs, 2)
	assert.Equal(t, t4.ID, bundleEntry.Txs[0].ID, "bundle internal order preserved")
	assert.Equal(t, t5.ID, bundleEntry.Txs[1].ID)
}

func TestRejectedBundleLeavesQueueUntouched(t *testing.T) {
	e := newTestEngine(t, Config{BlockInterval: time.Hour})
	ctx := waitCtx(t)

	dup := models.NewTransaction("evm", []byte("dup"))

	err := e.PublishBundle(ctx, models.Bundle{Txs: []models.Transaction{dup, dup}})
	assert.ErrorIs(t, err, bundle.ErrInternalDuplicate)
	assert.Equal(t, 0, e.queue.Len(), "rejected bundle consumes no queue capacity")

	err = e.PublishBundle(ctx, models.Bundle{})
	assert.ErrorIs(t, err, bundle.ErrEmptyBundle)
	assert.Equal(t, 0, e.queue.Len())
}

func TestDuplicatePublishRejected(t *testing.T) {
	e := newTestEngine(t, Config{BlockInterval: time.Hour})
	ctx := waitCtx(t)

	tx := models.NewTransaction("evm", []byte("once"))
	require.NoError(t, e.Publish(ctx, tx))
	assert.ErrorIs(t, e.Publish(ctx, tx), queue.ErrDuplicateMember)
}

func TestQueueFullBackpressure(t *testing.T) {
	e := newTestEngine(t, Config{QueueCapacity: 2, BlockInterval: time.Hour, MaxBlockEntries: 64})
	ctx := waitCtx(t)

	require.NoError(t, e.Publish(ctx, models.NewTransaction("evm", []byte("a"))))
	require.NoError(t, e.Publish(ctx, models.NewTransaction("evm", []byte("b"))))
	assert.ErrorIs(t, e.Publish(ctx, models.NewTransaction("evm", []byte("c"))), queue.ErrQueueFull)
}

func TestWaitDeliversStrictlyIncreasingHeights(t *testing.T) {
	e := newTestEngine(t, Config{MaxBlockEntries: 1, BlockInterval: 10 * time.Millisecond})
	ctx := waitCtx(t)

	const blocks = 5
	for i := 0; i < blocks; i++ {
		require.NoError(t, e.Publish(ctx, models.NewTransaction("evm", []byte(fmt.Sprintf("tx-%d", i)))))
	}

	var next uint64
	for i := 0; i < blocks; i++ {
		block, err := e.WaitForNextBlock(ctx, next)
		require.NoError(t, err)
		require.NotNil(t, block)
		assert.Equal(t, next, block.Height, "no height skipped or repeated")
		next = block.Height + 1
	}
}

func TestEveryAdmissionSequencedExactlyOnce(t *testing.T) {
	e := newTestEngine(t, Config{MaxBlockEntries: 4, BlockInterval: 10 * time.Millisecond})
	ctx := waitCtx(t)

	const publishers = 8
	const perPublisher = 10
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				tx := models.NewTransaction("evm", []byte(fmt.Sprintf("p%d-tx%d", p, i)))
				assert.NoError(t, e.Publish(ctx, tx))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[models.TxID]int)
	var next uint64
	for len(seen) < publishers*perPublisher {
		block, err := e.WaitForNextBlock(ctx, next)
		require.NoError(t, err)
		require.NotNil(t, block)
		for _, entry := range block.Entries {
			for _, tx := range entry.Txs {
				seen[tx.ID]++
			}
		}
		next = block.Height + 1
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "transaction %s sequenced more than once", id)
	}
}

func TestWaitReturnsNilOnShutdown(t *testing.T) {
	e := New(Config{
		QueueCapacity:   16,
		MaxBlockEntries: 16,
		BlockInterval:   time.Hour,
	}, blocklog.NewMemory(), metrics.NewNop(), nil)

	type result struct {
		block *models.Block
		err   error
	}
	done := make(chan result, 1)
	go func() {
		block, err := e.WaitForNextBlock(context.Background(), 0)
		done <- result{block, err}
	}()

	time.Sleep(20 * time.Millisecond)
	e.Close()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Nil(t, r.block, "nil block signals graceful shutdown, nothing else")
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not release the waiting consumer")
	}

	assert.ErrorIs(t, e.Publish(context.Background(), models.NewTransaction("evm", []byte("late"))), ErrClosed)
}

func TestWaitCancellation(t *testing.T) {
	e := newTestEngine(t, Config{BlockInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.WaitForNextBlock(ctx, 0)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled wait did not return")
	}
}

func TestWaitCatchesUpFromLog(t *testing.T) {
	e := newTestEngine(t, Config{MaxBlockEntries: 1, BlockInterval: 10 * time.Millisecond})
	ctx := waitCtx(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Publish(ctx, models.NewTransaction("evm", []byte(fmt.Sprintf("tx-%d", i)))))
	}

	// Let all three blocks land first.
	tipCtx := waitCtx(t)
	var block *models.Block
	var err error
	require.Eventually(t, func() bool {
		block, err = e.Tip(tipCtx)
		return err == nil && block.Height == 2
	}, 3*time.Second, 10*time.Millisecond)

	// A consumer that fell behind replays from the log without parking.
	for h := uint64(0); h <= 2; h++ {
		got, err := e.WaitForNextBlock(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, h, got.Height)
	}
}
