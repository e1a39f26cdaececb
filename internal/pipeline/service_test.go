package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/internal/batch"
	"github.com/lumina-search/lumina-backend/internal/jobs"
	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	"github.com/lumina-search/lumina-backend/pkg/logger"
)

type stubLock struct {
	acquired bool
	released int
	err      error
}

func (s *stubLock) Acquire(ctx context.Context) (bool, error) { return s.acquired, s.err }

func (s *stubLock) Release(ctx context.Context) error {
	s.released++
	return nil
}

type stubSubmitter struct {
	report *batch.EnqueueReport
	err    error
	calls  int
}

func (s *stubSubmitter) SubmitPending(ctx context.Context) (*batch.EnqueueReport, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.report != nil {
		return s.report, nil
	}
	return &batch.EnqueueReport{}, nil
}

type stubTracker struct {
	mu          sync.Mutex
	active      []models.BatchJob
	polled      []uuid.UUID
	statusCalls int
	pollErr     error
	result      *jobs.PollResult
}

func (s *stubTracker) Poll(ctx context.Context, jobID uuid.UUID) (*jobs.PollResult, error) {
	s.mu.Lock()
	s.polled = append(s.polled, jobID)
	s.mu.Unlock()
	if s.pollErr != nil {
		return nil, s.pollErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &jobs.PollResult{JobID: jobID, State: enums.BatchJobStateInProgress}, nil
}

func (s *stubTracker) Status(ctx context.Context, jobID uuid.UUID) (*jobs.PollResult, error) {
	s.mu.Lock()
	s.statusCalls++
	s.mu.Unlock()
	return &jobs.PollResult{JobID: jobID, State: enums.BatchJobStateInProgress}, nil
}

func (s *stubTracker) ActiveJobs(ctx context.Context) ([]models.BatchJob, error) {
	return s.active, nil
}

func (s *stubTracker) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.polled)
}

type stubReconciler struct {
	committed int
	err       error
	calls     int
}

func (s *stubReconciler) ReconcilePending(ctx context.Context) (int, error) {
	s.calls++
	return s.committed, s.err
}

type stubGuard struct {
	mu     sync.Mutex
	held   map[string]bool
	denied map[string]bool
	dels   []string
}

func newStubGuard() *stubGuard {
	return &stubGuard{held: map[string]bool{}, denied: map[string]bool{}}
}

func (s *stubGuard) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied[key] || s.held[key] {
		return false, nil
	}
	s.held[key] = true
	return true, nil
}

func (s *stubGuard) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.held, key)
		s.dels = append(s.dels, key)
	}
	return nil
}

func (s *stubGuard) PollKey(jobID string) string { return "poll:" + jobID }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		SweepInterval: time.Minute,
		PollTimeout:   time.Second,
		PollWorkers:   2,
	}
}

func newCoordinator(t *testing.T, params ServiceParams) *Service {
	t.Helper()
	if params.Logger == nil {
		params.Logger = testLogger()
	}
	if params.Config.SweepInterval == 0 {
		params.Config = testConfig()
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCoordinatorRunsAllSweeps(t *testing.T) {
	t.Parallel()

	lock := &stubLock{acquired: true}
	submitter := &stubSubmitter{report: &batch.EnqueueReport{Submitted: 3, JobIDs: []uuid.UUID{uuid.New()}}}
	tracker := &stubTracker{active: []models.BatchJob{{ID: uuid.New()}, {ID: uuid.New()}}}
	reconciler := &stubReconciler{committed: 1}
	svc := newCoordinator(t, ServiceParams{
		Lock:       lock,
		Submitter:  submitter,
		Tracker:    tracker,
		Reconciler: reconciler,
		Guard:      newStubGuard(),
	})

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle returned error: %v", err)
	}
	if submitter.calls != 1 {
		t.Fatalf("expected one submit sweep, got %d", submitter.calls)
	}
	if tracker.pollCount() != 2 {
		t.Fatalf("expected both active jobs polled, got %d", tracker.pollCount())
	}
	if reconciler.calls != 1 {
		t.Fatalf("expected one reconcile sweep, got %d", reconciler.calls)
	}
	if lock.released != 1 {
		t.Fatalf("expected lock released once, got %d", lock.released)
	}
}

func TestCoordinatorSkipsCycleWhenLockHeldElsewhere(t *testing.T) {
	t.Parallel()

	submitter := &stubSubmitter{}
	svc := newCoordinator(t, ServiceParams{
		Lock:       &stubLock{acquired: false},
		Submitter:  submitter,
		Tracker:    &stubTracker{},
		Reconciler: &stubReconciler{},
		Guard:      newStubGuard(),
	})

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle returned error: %v", err)
	}
	if submitter.calls != 0 {
		t.Fatal("expected no sweeps while another instance holds the lock")
	}
}

func TestCoordinatorSweepFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	submitter := &stubSubmitter{err: errors.New("backend down")}
	reconciler := &stubReconciler{}
	svc := newCoordinator(t, ServiceParams{
		Lock:       &stubLock{acquired: true},
		Submitter:  submitter,
		Tracker:    &stubTracker{},
		Reconciler: reconciler,
		Guard:      newStubGuard(),
	})

	err := svc.runCycle(context.Background())
	if err == nil {
		t.Fatal("expected cycle error from failed sweep")
	}
	if reconciler.calls != 1 {
		t.Fatal("expected reconcile sweep to run despite submit failure")
	}
}

func TestPollSweepSkipsJobsGuardedElsewhere(t *testing.T) {
	t.Parallel()

	guarded := uuid.New()
	free := uuid.New()
	guard := newStubGuard()
	guard.denied[guard.PollKey(guarded.String())] = true
	tracker := &stubTracker{active: []models.BatchJob{{ID: guarded}, {ID: free}}}
	svc := newCoordinator(t, ServiceParams{
		Lock:       &stubLock{acquired: true},
		Submitter:  &stubSubmitter{},
		Tracker:    tracker,
		Reconciler: &stubReconciler{},
		Guard:      guard,
	})

	if err := svc.pollSweep(context.Background()); err != nil {
		t.Fatalf("pollSweep returned error: %v", err)
	}
	if tracker.pollCount() != 1 {
		t.Fatalf("expected only the unguarded job polled, got %d", tracker.pollCount())
	}
	if tracker.polled[0] != free {
		t.Fatalf("expected %s polled, got %s", free, tracker.polled[0])
	}
}

func TestPollSweepReleasesGuardKeys(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	guard := newStubGuard()
	tracker := &stubTracker{active: []models.BatchJob{{ID: jobID}}}
	svc := newCoordinator(t, ServiceParams{
		Lock:       &stubLock{acquired: true},
		Submitter:  &stubSubmitter{},
		Tracker:    tracker,
		Reconciler: &stubReconciler{},
		Guard:      guard,
	})

	if err := svc.pollSweep(context.Background()); err != nil {
		t.Fatalf("pollSweep returned error: %v", err)
	}
	if len(guard.dels) != 1 || guard.dels[0] != guard.PollKey(jobID.String()) {
		t.Fatalf("expected guard key released, got %v", guard.dels)
	}
}

func TestCheckJobStatePollsWhenGuardAcquired(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	tracker := &stubTracker{}
	svc := newCoordinator(t, ServiceParams{
		Lock:       &stubLock{acquired: true},
		Submitter:  &stubSubmitter{},
		Tracker:    tracker,
		Reconciler: &stubReconciler{},
		Guard:      newStubGuard(),
	})

	result, err := svc.CheckJobState(context.Background(), jobID)
	if err != nil {
		t.Fatalf("CheckJobState returned error: %v", err)
	}
	if result.JobID != jobID {
		t.Fatalf("expected result for %s, got %s", jobID, result.JobID)
	}
	if tracker.pollCount() != 1 || tracker.statusCalls != 0 {
		t.Fatal("expected a remote poll, not a local status read")
	}
}

func TestCheckJobStateFallsBackToStatusWhenPollInFlight(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	guard := newStubGuard()
	guard.denied[guard.PollKey(jobID.String())] = true
	tracker := &stubTracker{}
	svc := newCoordinator(t, ServiceParams{
		Lock:       &stubLock{acquired: true},
		Submitter:  &stubSubmitter{},
		Tracker:    tracker,
		Reconciler: &stubReconciler{},
		Guard:      guard,
	})

	if _, err := svc.CheckJobState(context.Background(), jobID); err != nil {
		t.Fatalf("CheckJobState returned error: %v", err)
	}
	if tracker.pollCount() != 0 || tracker.statusCalls != 1 {
		t.Fatal("expected local status read while another poll is in flight")
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewService(ServiceParams{Logger: testLogger(), Config: testConfig()})
	if err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}
