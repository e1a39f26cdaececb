package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/lumina-search/lumina-backend/pkg/db/types"

	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/inference"
	"github.com/lumina-search/lumina-backend/pkg/metrics"
)

type inferenceSubmitter interface {
	Submit(ctx context.Context, items []inference.BatchItem) (string, error)
}

// Service forms batches of pending records and submits them to the inference
// service.
type Service interface {
	// Enqueue submits the requested ids, skipping any that are not pending.
	// The eligible count must meet the configured minimum batch size.
	Enqueue(ctx context.Context, ids []uuid.UUID) (*EnqueueReport, error)
	// SubmitPending drains pending records into batches: full batches flush
	// immediately, partial ones only once the oldest member has waited out
	// the batch window.
	SubmitPending(ctx context.Context) (*EnqueueReport, error)
}

type service struct {
	repo      Repository
	inference inferenceSubmitter
	metrics   *metrics.PipelineMetrics
	cfg       config.PipelineConfig
}

// NewService constructs the batch submitter.
func NewService(repo Repository, submitter inferenceSubmitter, m *metrics.PipelineMetrics, cfg config.PipelineConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("inference submitter required")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive")
	}
	return &service{
		repo:      repo,
		inference: submitter,
		metrics:   m,
		cfg:       cfg,
	}, nil
}

func (s *service) Enqueue(ctx context.Context, ids []uuid.UUID) (*EnqueueReport, error) {
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image_ids are required")
	}

	unique := dedupe(ids)
	eligible, err := s.repo.FindPendingByIDs(ctx, unique)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending records")
	}

	report := &EnqueueReport{}
	eligibleIDs := map[uuid.UUID]bool{}
	for _, record := range eligible {
		eligibleIDs[record.ID] = true
	}
	for _, id := range unique {
		if !eligibleIDs[id] {
			report.Skipped = append(report.Skipped, SkippedItem{ID: id, Reason: "not pending"})
		}
	}

	if len(eligible) < s.cfg.MinBatchSize {
		return nil, pkgerrors.New(
			pkgerrors.CodeValidation,
			fmt.Sprintf("at least %d eligible images required, got %d", s.cfg.MinBatchSize, len(eligible)),
		).WithDetails(report.Skipped)
	}

	for start := 0; start < len(eligible); start += s.cfg.MaxBatchSize {
		end := min(start+s.cfg.MaxBatchSize, len(eligible))
		if err := s.submitChunk(ctx, eligible[start:end], report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *service) SubmitPending(ctx context.Context) (*EnqueueReport, error) {
	report := &EnqueueReport{}
	for {
		records, err := s.repo.FindPending(ctx, s.cfg.MaxBatchSize)
		if err != nil {
			return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending records")
		}
		if len(records) == 0 {
			return report, nil
		}

		if len(records) < s.cfg.MaxBatchSize {
			age, err := s.repo.OldestPendingAge(ctx)
			if err != nil {
				return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending age")
			}
			// Partial batch holds until the window elapses.
			if age < s.cfg.BatchWindow {
				return report, nil
			}
		}

		if err := s.submitChunk(ctx, records, report); err != nil {
			return report, err
		}
		if len(records) < s.cfg.MaxBatchSize {
			return report, nil
		}
	}
}

func (s *service) submitChunk(ctx context.Context, records []models.ImageRecord, report *EnqueueReport) error {
	jobID := uuid.New()
	memberIDs := make(dbtypes.UUIDArray, 0, len(records))
	items := make([]inference.BatchItem, 0, len(records))
	for _, record := range records {
		memberIDs = append(memberIDs, record.ID)
		item := inference.BatchItem{
			ImageID:    record.ID.String(),
			StorageRef: record.StorageRef,
		}
		if record.Description != nil {
			item.Description = *record.Description
		}
		items = append(items, item)
	}

	job := &models.BatchJob{
		ID:          jobID,
		MemberIDs:   memberIDs,
		State:       enums.BatchJobStateCreated,
		Version:     1,
		SubmittedAt: time.Now(),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create batch job")
	}
	if err := s.repo.MarkSubmitted(ctx, memberIDs, jobID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark members submitted")
	}

	remoteID, err := s.inference.Submit(ctx, items)
	if err != nil {
		s.handleSubmitFailure(ctx, jobID, memberIDs, err, report)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "submit batch")
	}

	if err := s.repo.SetJobRemoteID(ctx, jobID, remoteID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record remote job id")
	}

	report.JobIDs = append(report.JobIDs, jobID)
	report.Submitted += len(records)
	s.metrics.ObserveBatchSubmitted(len(records))
	return nil
}

func (s *service) handleSubmitFailure(ctx context.Context, jobID uuid.UUID, memberIDs []uuid.UUID, cause error, report *EnqueueReport) {
	_ = s.repo.MarkJobFailed(ctx, jobID, cause.Error())
	_ = s.repo.RevertToPending(ctx, memberIDs)
	failed, err := s.repo.FailOverBudget(ctx, memberIDs, s.cfg.SubmitRetryBudget)
	if err != nil {
		return
	}
	for _, id := range failed {
		report.Skipped = append(report.Skipped, SkippedItem{ID: id, Reason: "submit retry budget exhausted"})
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return unique
}
