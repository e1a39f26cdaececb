package search

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a search gateway repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindEnrichedByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ImageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("status = ?", enums.ImageStatusEnriched).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
