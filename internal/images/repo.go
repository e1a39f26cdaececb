package images

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	"github.com/lumina-search/lumina-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an image record repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, record *models.ImageRecord) (*models.ImageRecord, error) {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	var record models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindActiveByHash(ctx context.Context, contentHash string) (*models.ImageRecord, error) {
	var record models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("content_hash = ?", contentHash).
		Where("status <> ?", enums.ImageStatusDeleted).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) UpdateGuarded(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.ImageRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.ImageRecord{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	} else {
		query = query.Where("status <> ?", enums.ImageStatusDeleted)
	}
	if filter.ContentHash != "" {
		query = query.Where("content_hash = ?", filter.ContentHash)
	}

	cursor, err := pagination.ParseCursor(filter.Pagination.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(created_at, id) < (?, ?)",
			cursor.CreatedAt, cursor.ID,
		)
	}

	var records []models.ImageRecord
	err = query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(filter.Pagination.Limit)).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
