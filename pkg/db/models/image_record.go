package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/lumina-search/lumina-backend/pkg/db/types"
	"github.com/lumina-search/lumina-backend/pkg/enums"
)

// ImageRecord is the durable metadata row for an uploaded image. It is owned
// by the image record store; the batch submitter, job tracker, and index
// writer only reference it.
type ImageRecord struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	StorageRef   string            `gorm:"column:storage_ref;not null"`
	ContentHash  string            `gorm:"column:content_hash;not null;index"`
	Status       enums.ImageStatus `gorm:"column:status;not null;default:pending;index"`
	Description  *string           `gorm:"column:description"`
	Embedding    dbtypes.Vector    `gorm:"column:embedding"`
	Version      int64             `gorm:"column:version;not null;default:1"`
	RetryCount   int               `gorm:"column:retry_count;not null;default:0"`
	BatchJobID   *uuid.UUID        `gorm:"column:batch_job_id;type:uuid;index"`
	IndexPending bool              `gorm:"column:index_pending;not null;default:false"`
	MimeType     string            `gorm:"column:mime_type;not null"`
	SizeBytes    int64             `gorm:"column:size_bytes;not null"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (ImageRecord) TableName() string {
	return "image_records"
}
