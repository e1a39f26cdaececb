package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/inference"
	"github.com/lumina-search/lumina-backend/pkg/metrics"
)

type inferencePoller interface {
	Poll(ctx context.Context, jobID string) (*inference.JobStatus, error)
	FetchResults(ctx context.Context, jobID, cursor string) (*inference.ResultPage, error)
}

// Service drives the batch job state machine.
type Service interface {
	// Poll observes the remote job state and applies any transition exactly
	// once. Safe to call concurrently and repeatedly.
	Poll(ctx context.Context, jobID uuid.UUID) (*PollResult, error)
	// Status reports the locally known state without contacting the remote
	// service.
	Status(ctx context.Context, jobID uuid.UUID) (*PollResult, error)
	ActiveJobs(ctx context.Context) ([]models.BatchJob, error)
}

type service struct {
	repo         Repository
	inference    inferencePoller
	metrics      *metrics.PipelineMetrics
	maxJobAge    time.Duration
	pollInterval time.Duration
}

// NewService constructs the job tracker.
func NewService(repo Repository, poller inferencePoller, m *metrics.PipelineMetrics, cfg config.PipelineConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if poller == nil {
		return nil, fmt.Errorf("inference poller required")
	}
	if cfg.MaxJobAge <= 0 {
		return nil, fmt.Errorf("max job age must be positive")
	}
	return &service{
		repo:         repo,
		inference:    poller,
		metrics:      m,
		maxJobAge:    cfg.MaxJobAge,
		pollInterval: cfg.PollInterval,
	}, nil
}

func (s *service) Poll(ctx context.Context, jobID uuid.UUID) (*PollResult, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return s.summarize(ctx, job)
	}

	if time.Since(job.SubmittedAt) > s.maxJobAge {
		if err := s.expire(ctx, job); err != nil {
			return nil, err
		}
		return s.reloadAndSummarize(ctx, jobID)
	}

	// Submission has not produced a remote handle yet; nothing to poll.
	if job.RemoteJobID == "" {
		return s.summarize(ctx, job)
	}

	status, err := s.inference.Poll(ctx, job.RemoteJobID)
	if err != nil {
		return nil, err
	}
	_ = s.repo.TouchLastPolled(ctx, job.ID)

	next, err := status.State.ToJobState()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePermanentBackend, err, "map remote job state")
	}

	switch {
	case next == job.State || next == enums.BatchJobStateCreated:
		return s.summarize(ctx, job)

	case next == enums.BatchJobStateInProgress:
		changed, err := s.repo.UpdateJobGuarded(ctx, job.ID, job.Version, map[string]any{
			"state":   enums.BatchJobStateInProgress,
			"version": job.Version + 1,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transition job")
		}
		if changed {
			if err := s.repo.MarkMembersEnriching(ctx, job.ID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark members enriching")
			}
			s.metrics.IncJobTransition(enums.BatchJobStateInProgress.String())
		}
		return s.reloadAndSummarize(ctx, jobID)

	case next == enums.BatchJobStateFailed:
		// Whole-job failure happens before any item executed.
		return s.finalize(ctx, job, next, status.Reason, false)

	default:
		return s.finalize(ctx, job, next, status.Reason, true)
	}
}

func (s *service) Status(ctx context.Context, jobID uuid.UUID) (*PollResult, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, job)
}

func (s *service) ActiveJobs(ctx context.Context) ([]models.BatchJob, error) {
	jobs, err := s.repo.FindActiveJobs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active jobs")
	}
	if s.pollInterval <= 0 {
		return jobs, nil
	}
	// Jobs polled within the interval are skipped so sweeps spread remote
	// calls instead of hammering every job each pass.
	cutoff := time.Now().Add(-s.pollInterval)
	due := jobs[:0]
	for _, job := range jobs {
		if job.LastPolledAt != nil && job.LastPolledAt.After(cutoff) {
			continue
		}
		due = append(due, job)
	}
	return due, nil
}

// finalize applies per-item results (when the remote job ran) and moves the
// job to its terminal state. Member updates are guarded by the record's
// active status, so a concurrent or repeated poll cannot double-apply them.
func (s *service) finalize(ctx context.Context, job *models.BatchJob, next enums.BatchJobState, reason string, withResults bool) (*PollResult, error) {
	if withResults {
		if err := s.applyResults(ctx, job); err != nil {
			return nil, err
		}
	}
	// Members never covered by a result item fail rather than dangle.
	if err := s.repo.FailActiveMembers(ctx, job.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail residual members")
	}

	now := time.Now()
	updates := map[string]any{
		"state":        next,
		"completed_at": now,
		"version":      job.Version + 1,
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	changed, err := s.repo.UpdateJobGuarded(ctx, job.ID, job.Version, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize job")
	}
	if changed {
		s.metrics.IncJobTransition(next.String())
	}
	return s.reloadAndSummarize(ctx, job.ID)
}

func (s *service) applyResults(ctx context.Context, job *models.BatchJob) error {
	cursor := ""
	if job.ResultCursor != nil {
		cursor = *job.ResultCursor
	}

	for {
		page, err := s.inference.FetchResults(ctx, job.RemoteJobID, cursor)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			recordID, err := uuid.Parse(item.ImageID)
			if err != nil {
				continue
			}
			if item.Outcome == enums.ItemOutcomeSucceeded && item.Description != "" && len(item.Embedding) > 0 {
				// Tombstoned members fall out of the guarded update and the
				// result is discarded.
				if _, err := s.repo.MarkMemberEnriched(ctx, recordID, job.ID, item.Description, item.Embedding); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply enrichment result")
				}
				continue
			}
			if _, err := s.repo.MarkMemberFailed(ctx, recordID, job.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply failed result")
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
		if err := s.repo.SaveResultCursor(ctx, job.ID, cursor); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save result cursor")
		}
	}
}

func (s *service) expire(ctx context.Context, job *models.BatchJob) error {
	if err := s.repo.FailActiveMembers(ctx, job.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail expired members")
	}
	now := time.Now()
	_, err := s.repo.UpdateJobGuarded(ctx, job.ID, job.Version, map[string]any{
		"state":          enums.BatchJobStateFailed,
		"failure_reason": "job exceeded max age",
		"completed_at":   now,
		"version":        job.Version + 1,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire job")
	}
	s.metrics.IncJobTransition(enums.BatchJobStateFailed.String())
	return nil
}

func (s *service) loadJob(ctx context.Context, jobID uuid.UUID) (*models.BatchJob, error) {
	if jobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job_id is required")
	}
	job, err := s.repo.FindJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load batch job")
	}
	return job, nil
}

func (s *service) reloadAndSummarize(ctx context.Context, jobID uuid.UUID) (*PollResult, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, job)
}

func (s *service) summarize(ctx context.Context, job *models.BatchJob) (*PollResult, error) {
	records, err := s.repo.FindRecordsByIDs(ctx, job.MemberIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member records")
	}

	result := &PollResult{
		JobID:       job.ID,
		State:       job.State,
		SubmittedAt: job.SubmittedAt,
	}
	for _, record := range records {
		switch record.Status {
		case enums.ImageStatusEnriched:
			result.Items.Enriched++
		case enums.ImageStatusFailed:
			result.Items.Failed++
		case enums.ImageStatusDeleted:
			// Tombstoned members are not reported.
		default:
			result.Items.Pending++
		}
	}
	return result, nil
}
