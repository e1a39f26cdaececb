package indexer

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

// NewRepository builds an indexer repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindIndexPending(ctx context.Context, limit int) ([]models.ImageRecord, error) {
	var records []models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("index_pending = ?", true).
		Where("status = ?", enums.ImageStatusEnriched).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ClearIndexPending(ctx context.Context, id uuid.UUID, version int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"index_pending": false,
			"version":       version + 1,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
