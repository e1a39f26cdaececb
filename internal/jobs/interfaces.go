package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/pkg/db/models"
	dbtypes "github.com/lumina-search/lumina-backend/pkg/db/types"
)

// Repository covers the job and member-record writes the tracker performs.
type Repository interface {
	FindJobByID(ctx context.Context, id uuid.UUID) (*models.BatchJob, error)
	FindActiveJobs(ctx context.Context) ([]models.BatchJob, error)
	// UpdateJobGuarded applies updates only when the stored version still
	// matches; reports whether a row was changed.
	UpdateJobGuarded(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error)
	TouchLastPolled(ctx context.Context, id uuid.UUID) error
	SaveResultCursor(ctx context.Context, id uuid.UUID, cursor string) error

	FindRecordsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ImageRecord, error)
	// MarkMembersEnriching moves submitted members of the job into enriching.
	MarkMembersEnriching(ctx context.Context, jobID uuid.UUID) error
	// MarkMemberEnriched applies an enrichment result to an active member;
	// reports false when the member is no longer active (tombstoned or
	// already finalized).
	MarkMemberEnriched(ctx context.Context, recordID, jobID uuid.UUID, description string, embedding dbtypes.Vector) (bool, error)
	MarkMemberFailed(ctx context.Context, recordID, jobID uuid.UUID) (bool, error)
	// FailActiveMembers fails every member still bound to the job.
	FailActiveMembers(ctx context.Context, jobID uuid.UUID) error
}
