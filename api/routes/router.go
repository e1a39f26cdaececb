package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumina-search/lumina-backend/api/controllers"
	"github.com/lumina-search/lumina-backend/api/middleware"
	"github.com/lumina-search/lumina-backend/internal/batch"
	"github.com/lumina-search/lumina-backend/internal/images"
	"github.com/lumina-search/lumina-backend/internal/search"
	pkgAuth "github.com/lumina-search/lumina-backend/pkg/auth"
	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db"
	"github.com/lumina-search/lumina-backend/pkg/logger"
	"github.com/lumina-search/lumina-backend/pkg/redis"
	searchclient "github.com/lumina-search/lumina-backend/pkg/search"
	"github.com/lumina-search/lumina-backend/pkg/storage/gcs"
)

// NewRouter assembles the HTTP surface of the ingestion and search API.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gcsP gcs.Pinger,
	searchP searchclient.Pinger,
	imagesService images.Service,
	searchService search.Service,
	batchService batch.Service,
	jobChecker controllers.JobStateChecker,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP, gcsP, searchP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(pkgAuth.ScopeImagesWrite, logg))
			r.Post("/images", controllers.ImageUpload(imagesService, logg))
			r.Post("/images/batch-upload", controllers.ImageBatchUpload(imagesService, logg))
			r.Put("/images/{image_id}", controllers.ImageUpdate(imagesService, logg))
			r.Delete("/images/{image_id}", controllers.ImageDelete(imagesService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(pkgAuth.ScopeImagesRead, logg))
			r.Get("/images", controllers.ImageList(imagesService, logg))
			r.Get("/images/{image_id}", controllers.ImageGet(imagesService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(pkgAuth.ScopeSearch, logg))
			r.Post("/images/search", controllers.ImageSearch(searchService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(pkgAuth.ScopeBatchAdmin, logg))
			r.Post("/images/batch-descn-enrich", controllers.BatchEnrich(batchService, logg))
			r.Post("/check-batch-job-state", controllers.CheckBatchJobState(jobChecker, logg))
		})
	})

	return r
}
