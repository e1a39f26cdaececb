package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
)

// Repository covers the read-only record lookups the gateway performs.
type Repository interface {
	// FindEnrichedByIDs returns only records that are currently enriched;
	// tombstoned or in-flight records are filtered out.
	FindEnrichedByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ImageRecord, error)
}
