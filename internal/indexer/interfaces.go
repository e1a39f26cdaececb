package indexer

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
)

// Repository covers the reconciliation bookkeeping for index writes.
type Repository interface {
	// FindIndexPending returns enriched records still waiting for an index
	// write, oldest first.
	FindIndexPending(ctx context.Context, limit int) ([]models.ImageRecord, error)
	// ClearIndexPending drops the reconciliation flag when the stored version
	// still matches.
	ClearIndexPending(ctx context.Context, id uuid.UUID, version int64) (bool, error)
}
