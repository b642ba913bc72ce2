package assembly

import (
	"context"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// Repository defines the read contract against a source table.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Fragments returns every fragment for the given id, ordered by the
	// source's fragment-time column (ties keep physical row order). Rows
	// with a channel tag outside src.ValidChannels are excluded.
	Fragments(ctx context.Context, src catalog.Source, id string) ([]domain.Fragment, error)
}
