package images

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
)

// Repository owns reads and writes for image_records.
type Repository interface {
	Create(ctx context.Context, record *models.ImageRecord) (*models.ImageRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error)
	FindActiveByHash(ctx context.Context, contentHash string) (*models.ImageRecord, error)
	// UpdateGuarded applies updates only when the stored version still matches;
	// reports whether a row was changed.
	UpdateGuarded(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]models.ImageRecord, error)
}
