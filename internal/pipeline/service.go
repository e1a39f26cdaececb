package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/lumina-search/lumina-backend/internal/batch"
	"github.com/lumina-search/lumina-backend/internal/jobs"
	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/logger"
	"github.com/lumina-search/lumina-backend/pkg/metrics"
)

const (
	sweepSubmit    = "submit-pending"
	sweepPoll      = "poll-jobs"
	sweepReconcile = "reconcile-index"
)

type batchSubmitter interface {
	SubmitPending(ctx context.Context) (*batch.EnqueueReport, error)
}

type jobTracker interface {
	Poll(ctx context.Context, jobID uuid.UUID) (*jobs.PollResult, error)
	Status(ctx context.Context, jobID uuid.UUID) (*jobs.PollResult, error)
	ActiveJobs(ctx context.Context) ([]models.BatchJob, error)
}

type indexReconciler interface {
	ReconcilePending(ctx context.Context) (int, error)
}

// pollGuard coalesces concurrent polls of the same job across instances.
type pollGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	PollKey(jobID string) string
}

// ServiceParams configure the pipeline coordinator.
type ServiceParams struct {
	Logger     *logger.Logger
	Lock       Lock
	Submitter  batchSubmitter
	Tracker    jobTracker
	Reconciler indexReconciler
	Guard      pollGuard
	Metrics    *metrics.PipelineMetrics
	Config     config.PipelineConfig
}

// Service runs the periodic sweeps that move records through the pipeline.
type Service struct {
	logg       *logger.Logger
	lock       Lock
	submitter  batchSubmitter
	tracker    jobTracker
	reconciler indexReconciler
	guard      pollGuard
	metrics    *metrics.PipelineMetrics
	cfg        config.PipelineConfig
}

// NewService builds the pipeline coordinator.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Submitter == nil {
		return nil, fmt.Errorf("batch submitter required")
	}
	if params.Tracker == nil {
		return nil, fmt.Errorf("job tracker required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("index reconciler required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("poll guard required")
	}
	if params.Config.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	return &Service{
		logg:       params.Logger,
		lock:       params.Lock,
		submitter:  params.Submitter,
		tracker:    params.Tracker,
		reconciler: params.Reconciler,
		guard:      params.Guard,
		metrics:    params.Metrics,
		cfg:        params.Config,
	}, nil
}

// Run starts the sweep loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "pipeline cycle failed", err)
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "pipeline coordinator context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "pipeline cycle failed", err)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another pipeline instance is sweeping; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release pipeline lock", relErr)
		}
	}()

	var errs error
	errs = multierr.Append(errs, s.runSweep(ctx, sweepSubmit, s.submitSweep))
	errs = multierr.Append(errs, s.runSweep(ctx, sweepPoll, s.pollSweep))
	errs = multierr.Append(errs, s.runSweep(ctx, sweepReconcile, s.reconcileSweep))
	return errs
}

func (s *Service) runSweep(ctx context.Context, name string, sweep func(context.Context) error) error {
	sweepCtx := s.logg.WithField(ctx, "sweep", name)
	start := time.Now()
	err := sweep(sweepCtx)
	duration := time.Since(start)
	s.metrics.ObserveSweepDuration(name, duration)
	if err != nil {
		s.logg.Error(sweepCtx, "sweep failed", err)
		s.metrics.IncSweepFailure(name)
		return fmt.Errorf("%s: %w", name, err)
	}
	s.metrics.IncSweepSuccess(name)
	return nil
}

func (s *Service) submitSweep(ctx context.Context) error {
	report, err := s.submitter.SubmitPending(ctx)
	if err != nil {
		return err
	}
	if report.Submitted > 0 {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"jobs":    len(report.JobIDs),
			"records": report.Submitted,
		})
		s.logg.Info(ctx, "submitted pending records")
	}
	return nil
}

// pollSweep fans active jobs out to a bounded worker pool. Each job is
// polled under the coalescing guard so an on-demand check never races a
// sweep poll of the same job.
func (s *Service) pollSweep(ctx context.Context) error {
	active, err := s.tracker.ActiveJobs(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	workers := s.cfg.PollWorkers
	if workers <= 0 {
		workers = 1
	}

	jobCh := make(chan models.BatchJob)
	errCh := make(chan error, len(active))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := s.pollJob(ctx, job.ID); err != nil {
					errCh <- err
				}
			}
		}()
	}
	for _, job := range active {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()
	close(errCh)

	var errs error
	for err := range errCh {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (s *Service) pollJob(ctx context.Context, jobID uuid.UUID) error {
	key := s.guard.PollKey(jobID.String())
	acquired, err := s.guard.SetNX(ctx, key, "1", s.cfg.PollTimeout)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() { _ = s.guard.Del(ctx, key) }()

	pollCtx, cancel := context.WithTimeout(s.logg.WithJobID(ctx, jobID.String()), s.cfg.PollTimeout)
	defer cancel()

	_, err = s.tracker.Poll(pollCtx, jobID)
	return err
}

func (s *Service) reconcileSweep(ctx context.Context) error {
	committed, err := s.reconciler.ReconcilePending(ctx)
	if committed > 0 {
		s.logg.Info(s.logg.WithField(ctx, "committed", committed), "committed index backlog")
	}
	return err
}

// CheckJobState serves on-demand status checks. When no other poll of the
// job is in flight it observes the remote state synchronously; otherwise it
// answers from the locally known state.
func (s *Service) CheckJobState(ctx context.Context, jobID uuid.UUID) (*jobs.PollResult, error) {
	key := s.guard.PollKey(jobID.String())
	acquired, err := s.guard.SetNX(ctx, key, "1", s.cfg.PollTimeout)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return s.tracker.Status(ctx, jobID)
	}
	defer func() { _ = s.guard.Del(ctx, key) }()

	return s.tracker.Poll(ctx, jobID)
}
