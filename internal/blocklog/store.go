// Package blocklog provides the append-only, height-indexed block store: the
// single source of truth consumers read from.
package blocklog

import (
	"context"
	"errors"

	"github.com/manifest-network/seqd/internal/models"
)

var (
	// ErrHeightConflict is returned when an appended block's height does not
	// extend the tip, or when a height is re-appended with different content.
	// Under single-writer discipline this signals an ordering bug upstream.
	ErrHeightConflict = errors.New("block height conflicts with log tip")

	// ErrNotFound is returned by Get for a height the log does not hold.
	ErrNotFound = errors.New("block not found")

	// ErrEmpty is returned by Tip when no block has been appended yet.
	ErrEmpty = errors.New("block log is empty")
)

// Store is the append-only block log. Append accepts only a block at
// tip height + 1 (or 0 for genesis); re-appending an identical height+ID pair
// is a no-op success, supporting at-least-once retry from the assembler.
type Store interface {
	Append(ctx context.Context, block *models.Block) error
	Get(ctx context.Context, height uint64) (*models.Block, error)
	Tip(ctx context.Context) (*models.Block, error)
	Close() error
}
