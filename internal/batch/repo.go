package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a batch repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindPendingByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ImageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("status = ?", enums.ImageStatusPending).
		Where("batch_job_id IS NULL").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) FindPending(ctx context.Context, limit int) ([]models.ImageRecord, error) {
	var records []models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.ImageStatusPending).
		Where("batch_job_id IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	var record models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.ImageStatusPending).
		Where("batch_job_id IS NULL").
		Order("created_at ASC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return time.Since(record.CreatedAt), nil
}

func (r *repository) MarkSubmitted(ctx context.Context, ids []uuid.UUID, jobID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("id IN ?", ids).
		Where("status = ?", enums.ImageStatusPending).
		Updates(map[string]any{
			"status":       enums.ImageStatusSubmitted,
			"batch_job_id": jobID,
			"version":      gorm.Expr("version + 1"),
		}).Error
}

func (r *repository) RevertToPending(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("id IN ?", ids).
		Where("status = ?", enums.ImageStatusSubmitted).
		Updates(map[string]any{
			"status":       enums.ImageStatusPending,
			"batch_job_id": nil,
			"retry_count":  gorm.Expr("retry_count + 1"),
			"version":      gorm.Expr("version + 1"),
		}).Error
}

func (r *repository) FailOverBudget(ctx context.Context, ids []uuid.UUID, budget int) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var exhausted []models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("status = ?", enums.ImageStatusPending).
		Where("retry_count >= ?", budget).
		Find(&exhausted).Error
	if err != nil {
		return nil, err
	}
	if len(exhausted) == 0 {
		return nil, nil
	}

	failedIDs := make([]uuid.UUID, 0, len(exhausted))
	for _, record := range exhausted {
		failedIDs = append(failedIDs, record.ID)
	}
	err = r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("id IN ?", failedIDs).
		Updates(map[string]any{
			"status":  enums.ImageStatusFailed,
			"version": gorm.Expr("version + 1"),
		}).Error
	if err != nil {
		return nil, err
	}
	return failedIDs, nil
}

func (r *repository) CreateJob(ctx context.Context, job *models.BatchJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) SetJobRemoteID(ctx context.Context, id uuid.UUID, remoteID string) error {
	return r.db.WithContext(ctx).
		Model(&models.BatchJob{}).
		Where("id = ?", id).
		Update("remote_job_id", remoteID).Error
}

func (r *repository) MarkJobFailed(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.BatchJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":          enums.BatchJobStateFailed,
			"failure_reason": reason,
			"completed_at":   now,
			"version":        gorm.Expr("version + 1"),
		}).Error
}
