package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/inference"
)

type stubBatchRepo struct {
	pendingByIDs []models.ImageRecord
	pending      [][]models.ImageRecord
	pendingCalls int
	oldestAge    time.Duration

	createdJobs  []*models.BatchJob
	submittedIDs [][]uuid.UUID
	revertedIDs  []uuid.UUID
	overBudget   []uuid.UUID
	failedJobs   []uuid.UUID
	remoteIDs    map[uuid.UUID]string
}

func newStubBatchRepo() *stubBatchRepo {
	return &stubBatchRepo{remoteIDs: map[uuid.UUID]string{}}
}

func (s *stubBatchRepo) FindPendingByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ImageRecord, error) {
	return s.pendingByIDs, nil
}

func (s *stubBatchRepo) FindPending(ctx context.Context, limit int) ([]models.ImageRecord, error) {
	if s.pendingCalls >= len(s.pending) {
		return nil, nil
	}
	out := s.pending[s.pendingCalls]
	s.pendingCalls++
	return out, nil
}

func (s *stubBatchRepo) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	return s.oldestAge, nil
}

func (s *stubBatchRepo) MarkSubmitted(ctx context.Context, ids []uuid.UUID, jobID uuid.UUID) error {
	s.submittedIDs = append(s.submittedIDs, ids)
	return nil
}

func (s *stubBatchRepo) RevertToPending(ctx context.Context, ids []uuid.UUID) error {
	s.revertedIDs = append(s.revertedIDs, ids...)
	return nil
}

func (s *stubBatchRepo) FailOverBudget(ctx context.Context, ids []uuid.UUID, budget int) ([]uuid.UUID, error) {
	return s.overBudget, nil
}

func (s *stubBatchRepo) CreateJob(ctx context.Context, job *models.BatchJob) error {
	s.createdJobs = append(s.createdJobs, job)
	return nil
}

func (s *stubBatchRepo) SetJobRemoteID(ctx context.Context, id uuid.UUID, remoteID string) error {
	s.remoteIDs[id] = remoteID
	return nil
}

func (s *stubBatchRepo) MarkJobFailed(ctx context.Context, id uuid.UUID, reason string) error {
	s.failedJobs = append(s.failedJobs, id)
	return nil
}

type stubSubmitter struct {
	jobID string
	err   error
	calls [][]inference.BatchItem
}

func (s *stubSubmitter) Submit(ctx context.Context, items []inference.BatchItem) (string, error) {
	s.calls = append(s.calls, items)
	if s.err != nil {
		return "", s.err
	}
	return s.jobID, nil
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxBatchSize:      3,
		MinBatchSize:      2,
		BatchWindow:       time.Minute,
		SubmitRetryBudget: 3,
	}
}

func pendingRecords(n int) []models.ImageRecord {
	records := make([]models.ImageRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.ImageRecord{
			ID:         uuid.New(),
			StorageRef: "gs://bucket/images/x",
			Status:     enums.ImageStatusPending,
		})
	}
	return records
}

func TestBatchEnqueueSubmitsEligibleRecords(t *testing.T) {
	t.Parallel()

	records := pendingRecords(2)
	repo := newStubBatchRepo()
	repo.pendingByIDs = records
	submitter := &stubSubmitter{jobID: "remote-1"}
	svc, err := NewService(repo, submitter, nil, testPipelineConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	requested := []uuid.UUID{records[0].ID, records[1].ID, uuid.New()}
	report, err := svc.Enqueue(context.Background(), requested)
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if len(report.JobIDs) != 1 {
		t.Fatalf("expected one job, got %d", len(report.JobIDs))
	}
	if report.Submitted != 2 {
		t.Fatalf("expected 2 submitted, got %d", report.Submitted)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Reason != "not pending" {
		t.Fatalf("unexpected skips %v", report.Skipped)
	}
	if len(repo.createdJobs) != 1 {
		t.Fatalf("expected one job created, got %d", len(repo.createdJobs))
	}
	if repo.remoteIDs[repo.createdJobs[0].ID] != "remote-1" {
		t.Fatal("expected remote id recorded")
	}
	if len(submitter.calls) != 1 || len(submitter.calls[0]) != 2 {
		t.Fatalf("unexpected submit calls %v", submitter.calls)
	}
}

func TestBatchEnqueueEnforcesMinimumSize(t *testing.T) {
	t.Parallel()

	repo := newStubBatchRepo()
	repo.pendingByIDs = pendingRecords(1)
	svc, err := NewService(repo, &stubSubmitter{jobID: "r"}, nil, testPipelineConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.Enqueue(context.Background(), []uuid.UUID{uuid.New(), uuid.New()})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBatchEnqueueChunksByMaxBatchSize(t *testing.T) {
	t.Parallel()

	records := pendingRecords(5)
	repo := newStubBatchRepo()
	repo.pendingByIDs = records
	submitter := &stubSubmitter{jobID: "remote"}
	svc, err := NewService(repo, submitter, nil, testPipelineConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ids := make([]uuid.UUID, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	report, err := svc.Enqueue(context.Background(), ids)
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if len(report.JobIDs) != 2 {
		t.Fatalf("expected two jobs for 5 records with max 3, got %d", len(report.JobIDs))
	}
	if len(submitter.calls[0]) != 3 || len(submitter.calls[1]) != 2 {
		t.Fatalf("unexpected chunking %d/%d", len(submitter.calls[0]), len(submitter.calls[1]))
	}
}

func TestBatchSubmitFailureRevertsMembers(t *testing.T) {
	t.Parallel()

	records := pendingRecords(2)
	exhausted := records[0].ID
	repo := newStubBatchRepo()
	repo.pendingByIDs = records
	repo.overBudget = []uuid.UUID{exhausted}
	submitter := &stubSubmitter{err: errors.New("inference down")}
	svc, err := NewService(repo, submitter, nil, testPipelineConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	report, err := svc.Enqueue(context.Background(), []uuid.UUID{records[0].ID, records[1].ID})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.failedJobs) != 1 {
		t.Fatal("expected job marked failed")
	}
	if len(repo.revertedIDs) != 2 {
		t.Fatalf("expected members reverted, got %v", repo.revertedIDs)
	}
	found := false
	for _, skip := range report.Skipped {
		if skip.ID == exhausted && skip.Reason == "submit retry budget exhausted" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected exhausted member reported, got %v", report.Skipped)
	}
}

func TestBatchSubmitPendingHoldsPartialBatchInsideWindow(t *testing.T) {
	t.Parallel()

	repo := newStubBatchRepo()
	repo.pending = [][]models.ImageRecord{pendingRecords(2)}
	repo.oldestAge = time.Second
	submitter := &stubSubmitter{jobID: "remote"}
	svc, err := NewService(repo, submitter, nil, testPipelineConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	report, err := svc.SubmitPending(context.Background())
	if err != nil {
		t.Fatalf("SubmitPending returned error: %v", err)
	}
	if len(report.JobIDs) != 0 {
		t.Fatalf("expected no submission inside window, got %v", report.JobIDs)
	}
	if len(submitter.calls) != 0 {
		t.Fatal("expected no remote calls")
	}
}

func TestBatchSubmitPendingFlushesAgedPartialBatch(t *testing.T) {
	t.Parallel()

	repo := newStubBatchRepo()
	repo.pending = [][]models.ImageRecord{pendingRecords(2)}
	repo.oldestAge = 2 * time.Minute
	submitter := &stubSubmitter{jobID: "remote"}
	svc, err := NewService(repo, submitter, nil, testPipelineConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	report, err := svc.SubmitPending(context.Background())
	if err != nil {
		t.Fatalf("SubmitPending returned error: %v", err)
	}
	if len(report.JobIDs) != 1 || report.Submitted != 2 {
		t.Fatalf("expected aged partial batch flushed, got %+v", report)
	}
}

func TestBatchSubmitPendingDrainsFullBatches(t *testing.T) {
	t.Parallel()

	repo := newStubBatchRepo()
	repo.pending = [][]models.ImageRecord{pendingRecords(3), pendingRecords(3)}
	submitter := &stubSubmitter{jobID: "remote"}
	svc, err := NewService(repo, submitter, nil, testPipelineConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	report, err := svc.SubmitPending(context.Background())
	if err != nil {
		t.Fatalf("SubmitPending returned error: %v", err)
	}
	if len(report.JobIDs) != 2 || report.Submitted != 6 {
		t.Fatalf("expected both full batches drained, got %+v", report)
	}
}

func TestBatchSubmitIncludesCallerDescriptions(t *testing.T) {
	t.Parallel()

	desc := "a hand-written caption"
	records := pendingRecords(2)
	records[0].Description = &desc
	repo := newStubBatchRepo()
	repo.pendingByIDs = records
	submitter := &stubSubmitter{jobID: "remote"}
	svc, err := NewService(repo, submitter, nil, testPipelineConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := svc.Enqueue(context.Background(), []uuid.UUID{records[0].ID, records[1].ID}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if submitter.calls[0][0].Description != desc {
		t.Fatalf("expected caller description forwarded, got %q", submitter.calls[0][0].Description)
	}
	if submitter.calls[0][1].Description != "" {
		t.Fatal("expected empty description for record without one")
	}
}
