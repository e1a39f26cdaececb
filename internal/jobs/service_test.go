package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	dbtypes "github.com/lumina-search/lumina-backend/pkg/db/types"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/inference"
)

type stubJobsRepo struct {
	job     *models.BatchJob
	active  []models.BatchJob
	records map[uuid.UUID]*models.ImageRecord

	guardedOK       bool
	enrichingCalled bool
	failedActive    bool
	enriched        []uuid.UUID
	failed          []uuid.UUID
	cursors         []string
}

func newStubJobsRepo(job *models.BatchJob) *stubJobsRepo {
	return &stubJobsRepo{
		job:       job,
		records:   map[uuid.UUID]*models.ImageRecord{},
		guardedOK: true,
	}
}

func (s *stubJobsRepo) FindJobByID(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	if s.job == nil || s.job.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.job
	return &copied, nil
}

func (s *stubJobsRepo) FindActiveJobs(ctx context.Context) ([]models.BatchJob, error) {
	if s.active != nil {
		return s.active, nil
	}
	if s.job != nil && !s.job.State.IsTerminal() {
		return []models.BatchJob{*s.job}, nil
	}
	return nil, nil
}

func (s *stubJobsRepo) UpdateJobGuarded(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error) {
	if !s.guardedOK || s.job.Version != version {
		return false, nil
	}
	if state, ok := updates["state"].(enums.BatchJobState); ok {
		s.job.State = state
	}
	s.job.Version++
	return true, nil
}

func (s *stubJobsRepo) TouchLastPolled(ctx context.Context, id uuid.UUID) error { return nil }

func (s *stubJobsRepo) SaveResultCursor(ctx context.Context, id uuid.UUID, cursor string) error {
	s.cursors = append(s.cursors, cursor)
	return nil
}

func (s *stubJobsRepo) FindRecordsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ImageRecord, error) {
	var out []models.ImageRecord
	for _, id := range ids {
		if record, ok := s.records[id]; ok {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (s *stubJobsRepo) MarkMembersEnriching(ctx context.Context, jobID uuid.UUID) error {
	s.enrichingCalled = true
	for _, record := range s.records {
		if record.Status == enums.ImageStatusSubmitted {
			record.Status = enums.ImageStatusEnriching
		}
	}
	return nil
}

func (s *stubJobsRepo) MarkMemberEnriched(ctx context.Context, recordID, jobID uuid.UUID, description string, embedding dbtypes.Vector) (bool, error) {
	record, ok := s.records[recordID]
	if !ok || record.Status == enums.ImageStatusDeleted || record.Status == enums.ImageStatusEnriched {
		return false, nil
	}
	record.Status = enums.ImageStatusEnriched
	s.enriched = append(s.enriched, recordID)
	return true, nil
}

func (s *stubJobsRepo) MarkMemberFailed(ctx context.Context, recordID, jobID uuid.UUID) (bool, error) {
	record, ok := s.records[recordID]
	if !ok || record.Status == enums.ImageStatusDeleted {
		return false, nil
	}
	record.Status = enums.ImageStatusFailed
	s.failed = append(s.failed, recordID)
	return true, nil
}

func (s *stubJobsRepo) FailActiveMembers(ctx context.Context, jobID uuid.UUID) error {
	s.failedActive = true
	for _, record := range s.records {
		if record.Status == enums.ImageStatusSubmitted || record.Status == enums.ImageStatusEnriching {
			record.Status = enums.ImageStatusFailed
		}
	}
	return nil
}

type stubPoller struct {
	status    *inference.JobStatus
	statusErr error
	pages     []*inference.ResultPage
	pageCalls int
	cursors   []string
}

func (s *stubPoller) Poll(ctx context.Context, jobID string) (*inference.JobStatus, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.status, nil
}

func (s *stubPoller) FetchResults(ctx context.Context, jobID, cursor string) (*inference.ResultPage, error) {
	s.cursors = append(s.cursors, cursor)
	page := s.pages[s.pageCalls]
	s.pageCalls++
	return page, nil
}

func testJob(state enums.BatchJobState, members ...uuid.UUID) *models.BatchJob {
	return &models.BatchJob{
		ID:          uuid.New(),
		RemoteJobID: "remote-1",
		MemberIDs:   members,
		State:       state,
		Version:     1,
		SubmittedAt: time.Now(),
	}
}

func newTracker(t *testing.T, repo Repository, poller inferencePoller) Service {
	t.Helper()
	svc, err := NewService(repo, poller, nil, config.PipelineConfig{MaxJobAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func addMember(repo *stubJobsRepo, jobID uuid.UUID, status enums.ImageStatus) uuid.UUID {
	id := uuid.New()
	bound := jobID
	repo.records[id] = &models.ImageRecord{ID: id, Status: status, BatchJobID: &bound}
	return id
}

func TestTrackerPollTerminalJobSkipsRemoteCall(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateCompleted)
	repo := newStubJobsRepo(job)
	poller := &stubPoller{statusErr: pkgerrors.New(pkgerrors.CodeDependency, "must not be called")}
	svc := newTracker(t, repo, poller)

	result, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if result.State != enums.BatchJobStateCompleted {
		t.Fatalf("unexpected state %s", result.State)
	}
}

func TestTrackerPollUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()

	svc := newTracker(t, newStubJobsRepo(nil), &stubPoller{})

	_, err := svc.Poll(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrackerPollTransitionsToInProgress(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateCreated)
	repo := newStubJobsRepo(job)
	memberID := addMember(repo, job.ID, enums.ImageStatusSubmitted)
	job.MemberIDs = dbtypes.UUIDArray{memberID}
	poller := &stubPoller{status: &inference.JobStatus{State: inference.RemoteStateInProgress}}
	svc := newTracker(t, repo, poller)

	result, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if result.State != enums.BatchJobStateInProgress {
		t.Fatalf("expected in_progress, got %s", result.State)
	}
	if !repo.enrichingCalled {
		t.Fatal("expected members marked enriching")
	}
	if repo.records[memberID].Status != enums.ImageStatusEnriching {
		t.Fatalf("expected member enriching, got %s", repo.records[memberID].Status)
	}
}

func TestTrackerPollCompletedAppliesResults(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateInProgress)
	repo := newStubJobsRepo(job)
	okID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	badID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	absentID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	job.MemberIDs = dbtypes.UUIDArray{okID, badID, absentID}

	poller := &stubPoller{
		status: &inference.JobStatus{State: inference.RemoteStateCompleted},
		pages: []*inference.ResultPage{{
			Items: []inference.ResultItem{
				{ImageID: okID.String(), Description: "a dog", Embedding: []float32{0.1}, Outcome: enums.ItemOutcomeSucceeded},
				{ImageID: badID.String(), Outcome: enums.ItemOutcomeFailed, Error: "blurred"},
			},
		}},
	}
	svc := newTracker(t, repo, poller)

	result, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if result.State != enums.BatchJobStateCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}
	if result.Items.Enriched != 1 || result.Items.Failed != 2 {
		t.Fatalf("unexpected breakdown %+v", result.Items)
	}
	if repo.records[okID].Status != enums.ImageStatusEnriched {
		t.Fatalf("expected member enriched, got %s", repo.records[okID].Status)
	}
	if repo.records[absentID].Status != enums.ImageStatusFailed {
		t.Fatalf("expected absent member failed, got %s", repo.records[absentID].Status)
	}
}

func TestTrackerPollDiscardsResultsForTombstonedRecords(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateInProgress)
	repo := newStubJobsRepo(job)
	deletedID := addMember(repo, job.ID, enums.ImageStatusDeleted)
	job.MemberIDs = dbtypes.UUIDArray{deletedID}

	poller := &stubPoller{
		status: &inference.JobStatus{State: inference.RemoteStateCompleted},
		pages: []*inference.ResultPage{{
			Items: []inference.ResultItem{
				{ImageID: deletedID.String(), Description: "late result", Embedding: []float32{0.5}, Outcome: enums.ItemOutcomeSucceeded},
			},
		}},
	}
	svc := newTracker(t, repo, poller)

	result, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if len(repo.enriched) != 0 {
		t.Fatalf("expected result discarded, got %v", repo.enriched)
	}
	if repo.records[deletedID].Status != enums.ImageStatusDeleted {
		t.Fatal("expected record to stay tombstoned")
	}
	if result.Items.Enriched != 0 || result.Items.Pending != 0 {
		t.Fatalf("unexpected breakdown %+v", result.Items)
	}
}

func TestTrackerPollPaginatesResults(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateInProgress)
	repo := newStubJobsRepo(job)
	firstID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	secondID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	job.MemberIDs = dbtypes.UUIDArray{firstID, secondID}

	poller := &stubPoller{
		status: &inference.JobStatus{State: inference.RemoteStateCompleted},
		pages: []*inference.ResultPage{
			{
				Items:      []inference.ResultItem{{ImageID: firstID.String(), Description: "one", Embedding: []float32{1}, Outcome: enums.ItemOutcomeSucceeded}},
				NextCursor: "page-2",
			},
			{
				Items: []inference.ResultItem{{ImageID: secondID.String(), Description: "two", Embedding: []float32{2}, Outcome: enums.ItemOutcomeSucceeded}},
			},
		},
	}
	svc := newTracker(t, repo, poller)

	result, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if result.Items.Enriched != 2 {
		t.Fatalf("expected both pages applied, got %+v", result.Items)
	}
	if len(repo.cursors) != 1 || repo.cursors[0] != "page-2" {
		t.Fatalf("expected cursor persisted, got %v", repo.cursors)
	}
	if len(poller.cursors) != 2 || poller.cursors[1] != "page-2" {
		t.Fatalf("expected paged fetches, got %v", poller.cursors)
	}
}

func TestTrackerPollPartiallyCompleted(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateInProgress)
	repo := newStubJobsRepo(job)
	firstID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	secondID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	failedID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	job.MemberIDs = dbtypes.UUIDArray{firstID, secondID, failedID}

	poller := &stubPoller{
		status: &inference.JobStatus{State: inference.RemoteStatePartiallyCompleted},
		pages: []*inference.ResultPage{{
			Items: []inference.ResultItem{
				{ImageID: firstID.String(), Description: "one", Embedding: []float32{1}, Outcome: enums.ItemOutcomeSucceeded},
				{ImageID: secondID.String(), Description: "two", Embedding: []float32{2}, Outcome: enums.ItemOutcomeSucceeded},
				{ImageID: failedID.String(), Outcome: enums.ItemOutcomeFailed, Error: "unreadable"},
			},
		}},
	}
	svc := newTracker(t, repo, poller)

	result, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if result.State != enums.BatchJobStatePartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", result.State)
	}
	if result.Items.Enriched != 2 || result.Items.Failed != 1 || result.Items.Pending != 0 {
		t.Fatalf("unexpected breakdown %+v", result.Items)
	}
	if repo.records[firstID].Status != enums.ImageStatusEnriched {
		t.Fatalf("expected member enriched, got %s", repo.records[firstID].Status)
	}
	if repo.records[failedID].Status != enums.ImageStatusFailed {
		t.Fatalf("expected member failed, got %s", repo.records[failedID].Status)
	}
}

func TestTrackerActiveJobsSkipsRecentlyPolled(t *testing.T) {
	t.Parallel()

	fresh := time.Now().Add(-10 * time.Second)
	stale := time.Now().Add(-5 * time.Minute)
	recent := *testJob(enums.BatchJobStateInProgress)
	recent.LastPolledAt = &fresh
	due := *testJob(enums.BatchJobStateInProgress)
	due.LastPolledAt = &stale
	never := *testJob(enums.BatchJobStateCreated)

	repo := newStubJobsRepo(nil)
	repo.active = []models.BatchJob{recent, due, never}

	svc, err := NewService(repo, &stubPoller{}, nil, config.PipelineConfig{
		MaxJobAge:    24 * time.Hour,
		PollInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	jobs, err := svc.ActiveJobs(context.Background())
	if err != nil {
		t.Fatalf("ActiveJobs returned error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(jobs))
	}
	if jobs[0].ID != due.ID || jobs[1].ID != never.ID {
		t.Fatalf("unexpected job order %v", []uuid.UUID{jobs[0].ID, jobs[1].ID})
	}
}

func TestTrackerPollFailsExpiredJob(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateInProgress)
	job.SubmittedAt = time.Now().Add(-48 * time.Hour)
	repo := newStubJobsRepo(job)
	memberID := addMember(repo, job.ID, enums.ImageStatusEnriching)
	job.MemberIDs = dbtypes.UUIDArray{memberID}
	svc := newTracker(t, repo, &stubPoller{})

	result, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if result.State != enums.BatchJobStateFailed {
		t.Fatalf("expected failed, got %s", result.State)
	}
	if repo.records[memberID].Status != enums.ImageStatusFailed {
		t.Fatalf("expected member failed, got %s", repo.records[memberID].Status)
	}
}

func TestTrackerPollLosesGuardGracefully(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateCreated)
	repo := newStubJobsRepo(job)
	repo.guardedOK = false
	poller := &stubPoller{status: &inference.JobStatus{State: inference.RemoteStateInProgress}}
	svc := newTracker(t, repo, poller)

	if _, err := svc.Poll(context.Background(), job.ID); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if repo.enrichingCalled {
		t.Fatal("losing poller must not apply side effects")
	}
}

func TestTrackerStatusDoesNotPollRemote(t *testing.T) {
	t.Parallel()

	job := testJob(enums.BatchJobStateInProgress)
	repo := newStubJobsRepo(job)
	poller := &stubPoller{statusErr: pkgerrors.New(pkgerrors.CodeDependency, "must not be called")}
	svc := newTracker(t, repo, poller)

	result, err := svc.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if result.State != enums.BatchJobStateInProgress {
		t.Fatalf("unexpected state %s", result.State)
	}
}
