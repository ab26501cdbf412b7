package blocklog

import (
	"context"
	"fmt"
	"sync"

	"github.com/manifest-network/seqd/internal/models"
)

// Memory is an in-process Store. It satisfies the full contract but does not
// survive restarts; use it for tests and single-run development, not for a
// durable deployment.
type Memory struct {
	mu     sync.RWMutex
	blocks []*models.Block
}

// NewMemory creates an empty in-memory block log.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, block *models.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := uint64(len(m.blocks))
	if block.Height < next {
		// Idempotent retry of an already-appended block is a no-op.
		if m.blocks[block.Height].ID == block.ID {
			return nil
		}
		return fmt.Errorf("%w: height %d already holds a different block", ErrHeightConflict, block.Height)
	}
	if block.Height != next {
		return fmt.Errorf("%w: got height %d, want %d", ErrHeightConflict, block.Height, next)
	}
	m.blocks = append(m.blocks, block)
	return nil
}

func (m *Memory) Get(_ context.Context, height uint64) (*models.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if height >= uint64(len(m.blocks)) {
		return nil, fmt.Errorf("%w: height %d", ErrNotFound, height)
	}
	return m.blocks[height], nil
}

func (m *Memory) Tip(_ context.Context) (*models.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.blocks) == 0 {
		return nil, ErrEmpty
	}
	return m.blocks[len(m.blocks)-1], nil
}

func (m *Memory) Close() error {
	return nil
}
