// Package bundle validates atomic transaction bundles before admission.
package bundle

import (
	"errors"
	"fmt"

	"github.com/manifest-network/seqd/internal/models"
)

var (
	// ErrEmptyBundle is returned for a bundle with no member transactions.
	ErrEmptyBundle = errors.New("bundle has no transactions")

	// ErrInternalDuplicate is returned when a transaction identity repeats
	// within the same bundle.
	ErrInternalDuplicate = errors.New("duplicate transaction within bundle")
)

// Validate checks bundle well-formedness. It is pure: a rejected bundle never
// reaches the submission queue and consumes no queue capacity.
func Validate(b models.Bundle) error {
	if len(b.Txs) == 0 {
		return ErrEmptyBundle
	}
	seen := make(map[models.TxID]struct{}, len(b.Txs))
	for _, tx := range b.Txs {
		if _, ok := seen[tx.ID]; ok {
			return fmt.Errorf("%w: %s", ErrInternalDuplicate, tx.ID)
		}
		seen[tx.ID] = struct{}{}
	}
	return nil
}
