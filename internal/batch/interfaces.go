package batch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
)

// Repository covers the record and job writes the submitter performs.
type Repository interface {
	FindPendingByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ImageRecord, error)
	FindPending(ctx context.Context, limit int) ([]models.ImageRecord, error)
	OldestPendingAge(ctx context.Context) (time.Duration, error)
	// MarkSubmitted moves still-pending members into submitted and binds them
	// to the job.
	MarkSubmitted(ctx context.Context, ids []uuid.UUID, jobID uuid.UUID) error
	// RevertToPending detaches members from a failed submission and charges
	// one retry.
	RevertToPending(ctx context.Context, ids []uuid.UUID) error
	// FailOverBudget fails members whose retry count passed the budget and
	// returns their ids.
	FailOverBudget(ctx context.Context, ids []uuid.UUID, budget int) ([]uuid.UUID, error)
	CreateJob(ctx context.Context, job *models.BatchJob) error
	SetJobRemoteID(ctx context.Context, id uuid.UUID, remoteID string) error
	MarkJobFailed(ctx context.Context, id uuid.UUID, reason string) error
}
