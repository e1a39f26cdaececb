package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/lumina-search/lumina-backend/pkg/db/types"
	"github.com/lumina-search/lumina-backend/pkg/enums"
)

// BatchJob tracks one inference batch submission. MemberIDs is ordered and
// bounded by the configured batch size limit; each member belongs to at most
// one active job at a time.
type BatchJob struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	RemoteJobID   string              `gorm:"column:remote_job_id;not null;index"`
	MemberIDs     dbtypes.UUIDArray   `gorm:"column:member_ids;type:uuid[]"`
	State         enums.BatchJobState `gorm:"column:state;not null;default:created;index"`
	ResultCursor  *string             `gorm:"column:result_cursor"`
	FailureReason *string             `gorm:"column:failure_reason"`
	// Version guards concurrent polls: state transitions apply through a
	// compare-and-set on (id, version).
	Version      int64      `gorm:"column:version;not null;default:1"`
	SubmittedAt  time.Time  `gorm:"column:submitted_at;not null"`
	LastPolledAt *time.Time `gorm:"column:last_polled_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (BatchJob) TableName() string {
	return "batch_jobs"
}
