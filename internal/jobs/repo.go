package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
	dbtypes "github.com/lumina-search/lumina-backend/pkg/db/types"
	"github.com/lumina-search/lumina-backend/pkg/enums"
)

var activeMemberStatuses = []enums.ImageStatus{
	enums.ImageStatusSubmitted,
	enums.ImageStatusEnriching,
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a job tracker repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindJobByID(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	var job models.BatchJob
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindActiveJobs(ctx context.Context) ([]models.BatchJob, error) {
	var jobs []models.BatchJob
	err := r.db.WithContext(ctx).
		Where("state IN ?", []enums.BatchJobState{
			enums.BatchJobStateCreated,
			enums.BatchJobStateInProgress,
		}).
		Order("submitted_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repository) UpdateJobGuarded(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.BatchJob{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) TouchLastPolled(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.BatchJob{}).
		Where("id = ?", id).
		Update("last_polled_at", now).Error
}

func (r *repository) SaveResultCursor(ctx context.Context, id uuid.UUID, cursor string) error {
	return r.db.WithContext(ctx).
		Model(&models.BatchJob{}).
		Where("id = ?", id).
		Update("result_cursor", cursor).Error
}

func (r *repository) FindRecordsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ImageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []models.ImageRecord
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) MarkMembersEnriching(ctx context.Context, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("batch_job_id = ?", jobID).
		Where("status = ?", enums.ImageStatusSubmitted).
		Updates(map[string]any{
			"status":  enums.ImageStatusEnriching,
			"version": gorm.Expr("version + 1"),
		}).Error
}

func (r *repository) MarkMemberEnriched(ctx context.Context, recordID, jobID uuid.UUID, description string, embedding dbtypes.Vector) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("id = ?", recordID).
		Where("batch_job_id = ?", jobID).
		Where("status IN ?", activeMemberStatuses).
		Updates(map[string]any{
			"status":        enums.ImageStatusEnriched,
			"description":   description,
			"embedding":     embedding,
			"batch_job_id":  nil,
			"index_pending": true,
			"version":       gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkMemberFailed(ctx context.Context, recordID, jobID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("id = ?", recordID).
		Where("batch_job_id = ?", jobID).
		Where("status IN ?", activeMemberStatuses).
		Updates(map[string]any{
			"status":       enums.ImageStatusFailed,
			"batch_job_id": nil,
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FailActiveMembers(ctx context.Context, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.ImageRecord{}).
		Where("batch_job_id = ?", jobID).
		Where("status IN ?", activeMemberStatuses).
		Updates(map[string]any{
			"status":       enums.ImageStatusFailed,
			"batch_job_id": nil,
			"version":      gorm.Expr("version + 1"),
		}).Error
}
