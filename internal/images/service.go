package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-search/lumina-backend/pkg/db"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/pagination"
)

// activeHashConstraint is the partial unique index over active records'
// content hashes.
const activeHashConstraint = "uq_image_records_active_content_hash"

// tombstoneRetries bounds CAS retries when a delete races a pipeline
// transition on the same record.
const tombstoneRetries = 5

type objectStore interface {
	ObjectKey(imageID string) string
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

type indexRemover interface {
	Delete(ctx context.Context, id string) error
}

// Service exposes the image record lifecycle.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateOutput, error)
	Update(ctx context.Context, id uuid.UUID, data []byte) (*models.ImageRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
}

type service struct {
	repo           Repository
	store          objectStore
	index          indexRemover
	maxUploadBytes int64
}

// NewService constructs an image service backed by the repository, object
// store, and search index.
func NewService(repo Repository, store objectStore, index indexRemover, maxUploadMB int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("image repository required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if index == nil {
		return nil, fmt.Errorf("search index required")
	}
	if maxUploadMB <= 0 {
		return nil, fmt.Errorf("max upload size must be positive")
	}
	return &service{
		repo:           repo,
		store:          store,
		index:          index,
		maxUploadBytes: int64(maxUploadMB) * 1024 * 1024,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateOutput, error) {
	mimeType, err := s.validateBytes(input.Data)
	if err != nil {
		return nil, err
	}

	contentHash := hashBytes(input.Data)

	existing, err := s.repo.FindActiveByHash(ctx, contentHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up content hash")
	}
	if existing != nil {
		if !input.ForceNewVersion {
			return &CreateOutput{Record: existing, Deduplicated: true}, nil
		}
		// Force-new-version supersedes the prior record: tombstone it and
		// drop its search document so only the new record is findable.
		if err := s.tombstone(ctx, existing); err != nil {
			return nil, err
		}
	}

	imageID := uuid.New()
	key := s.store.ObjectKey(imageID.String())
	storageRef, err := s.store.Put(ctx, key, mimeType, input.Data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store image bytes")
	}

	record := &models.ImageRecord{
		ID:          imageID,
		StorageRef:  storageRef,
		ContentHash: contentHash,
		Status:      enums.ImageStatusPending,
		Version:     1,
		MimeType:    mimeType,
		SizeBytes:   int64(len(input.Data)),
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		record.Description = &desc
	}

	if _, err := s.repo.Create(ctx, record); err != nil {
		_ = s.store.Delete(ctx, key)
		// A concurrent upload of the same bytes won the insert; hand back
		// its record instead of surfacing the constraint error.
		if db.IsUniqueViolation(err, activeHashConstraint) {
			winner, lookupErr := s.repo.FindActiveByHash(ctx, contentHash)
			if lookupErr == nil && winner != nil {
				return &CreateOutput{Record: winner, Deduplicated: true}, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist image record")
	}

	return &CreateOutput{Record: record}, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, data []byte) (*models.ImageRecord, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image_id is required")
	}
	mimeType, err := s.validateBytes(data)
	if err != nil {
		return nil, err
	}

	record, err := s.findActive(ctx, id)
	if err != nil {
		return nil, err
	}

	key := s.store.ObjectKey(id.String())
	storageRef, err := s.store.Put(ctx, key, mimeType, data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store image bytes")
	}

	updates := map[string]any{
		"storage_ref":   storageRef,
		"content_hash":  hashBytes(data),
		"status":        enums.ImageStatusPending,
		"embedding":     nil,
		"batch_job_id":  nil,
		"index_pending": false,
		"mime_type":     mimeType,
		"size_bytes":    int64(len(data)),
		"version":       record.Version + 1,
	}
	changed, err := s.repo.UpdateGuarded(ctx, id, record.Version, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update image record")
	}
	if !changed {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "image record changed concurrently")
	}

	// The indexed document describes the replaced bytes; drop it until the
	// record is enriched again.
	if err := s.index.Delete(ctx, id.String()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove stale index document")
	}

	return s.repo.FindByID(ctx, id)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "image_id is required")
	}

	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "image not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load image record")
	}
	if record.Status == enums.ImageStatusDeleted {
		return nil
	}

	return s.tombstone(ctx, record)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image_id is required")
	}
	return s.findActive(ctx, id)
}

func (s *service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list image records")
	}

	limit := pagination.NormalizeLimit(filter.Pagination.Limit)
	result := &ListResult{Records: records}
	if len(records) > limit {
		result.Records = records[:limit]
		last := result.Records[limit-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return result, nil
}

func (s *service) findActive(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load image record")
	}
	if record.Status == enums.ImageStatusDeleted {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image not found")
	}
	return record, nil
}

func (s *service) tombstone(ctx context.Context, record *models.ImageRecord) error {
	// A pipeline transition may bump the version between our read and the
	// CAS; the delete must still land, so reload and retry on a lost guard.
	deleted := false
	for attempt := 0; attempt < tombstoneRetries; attempt++ {
		updates := map[string]any{
			"status":        enums.ImageStatusDeleted,
			"batch_job_id":  nil,
			"index_pending": false,
			"version":       record.Version + 1,
		}
		changed, err := s.repo.UpdateGuarded(ctx, record.ID, record.Version, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "tombstone image record")
		}
		if changed {
			deleted = true
			break
		}

		record, err = s.repo.FindByID(ctx, record.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload image record")
		}
		if record.Status == enums.ImageStatusDeleted {
			deleted = true
			break
		}
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeConflict, "image record changed concurrently")
	}

	if err := s.index.Delete(ctx, record.ID.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove index document")
	}

	// Object bytes are kept out of the serving path once the row is
	// tombstoned; removal is best effort.
	_ = s.store.Delete(ctx, s.store.ObjectKey(record.ID.String()))
	return nil
}

func (s *service) validateBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "image bytes are required")
	}
	if int64(len(data)) > s.maxUploadBytes {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("image exceeds %d bytes", s.maxUploadBytes))
	}
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payload is not an image")
	}
	return detected.String(), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
