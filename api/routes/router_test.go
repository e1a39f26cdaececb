package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/internal/batch"
	"github.com/lumina-search/lumina-backend/internal/images"
	"github.com/lumina-search/lumina-backend/internal/jobs"
	"github.com/lumina-search/lumina-backend/internal/search"
	pkgAuth "github.com/lumina-search/lumina-backend/pkg/auth"
	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubImagesService struct{}

func (stubImagesService) Create(ctx context.Context, input images.CreateInput) (*images.CreateOutput, error) {
	return &images.CreateOutput{Record: &models.ImageRecord{ID: uuid.New()}}, nil
}

func (stubImagesService) Update(ctx context.Context, id uuid.UUID, data []byte) (*models.ImageRecord, error) {
	return &models.ImageRecord{ID: id}, nil
}

func (stubImagesService) Delete(ctx context.Context, id uuid.UUID) error { return nil }

func (stubImagesService) Get(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	return &models.ImageRecord{ID: id}, nil
}

func (stubImagesService) List(ctx context.Context, filter images.ListFilter) (*images.ListResult, error) {
	return &images.ListResult{}, nil
}

type stubSearchService struct{}

func (stubSearchService) Search(ctx context.Context, query search.Query) ([]search.Result, error) {
	return []search.Result{}, nil
}

type stubBatchService struct{}

func (stubBatchService) Enqueue(ctx context.Context, ids []uuid.UUID) (*batch.EnqueueReport, error) {
	return &batch.EnqueueReport{}, nil
}

func (stubBatchService) SubmitPending(ctx context.Context) (*batch.EnqueueReport, error) {
	return &batch.EnqueueReport{}, nil
}

type stubJobChecker struct{}

func (stubJobChecker) CheckJobState(ctx context.Context, jobID uuid.UUID) (*jobs.PollResult, error) {
	return &jobs.PollResult{JobID: jobID}, nil
}

func testRouterConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "8080"},
		JWT: config.JWTConfig{Secret: "test-secret", Issuer: "lumina", ExpirationMinutes: 5},
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return NewRouter(
		testRouterConfig(),
		logg,
		stubPinger{},
		stubPinger{},
		stubPinger{},
		stubPinger{},
		stubImagesService{},
		stubSearchService{},
		stubBatchService{},
		stubJobChecker{},
	)
}

func authHeader(t *testing.T, scopes []string) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testRouterConfig().JWT, time.Now(), pkgAuth.AccessTokenPayload{
		ClientID: uuid.New(),
		Scopes:   scopes,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthEndpointsArePublic(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, w.Code)
		}
	}
}

func TestAPIRequiresAuthentication(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/images", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestAPIEnforcesScopes(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	req.Header.Set("Authorization", authHeader(t, []string{pkgAuth.ScopeSearch}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong scope, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	req.Header.Set("Authorization", authHeader(t, []string{pkgAuth.ScopeImagesRead}))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with read scope, got %d", w.Code)
	}
}

func TestRouteWiring(t *testing.T) {
	router := newTestRouter(t)
	id := uuid.NewString()

	cases := []struct {
		method string
		path   string
		scope  string
	}{
		{http.MethodDelete, "/api/v1/images/" + id, pkgAuth.ScopeImagesWrite},
		{http.MethodGet, "/api/v1/images/" + id, pkgAuth.ScopeImagesRead},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("Authorization", authHeader(t, []string{tc.scope}))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200, got %d (%s)", tc.method, tc.path, w.Code, w.Body.String())
		}
	}
}
