package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/lumina-search/lumina-backend/api/responses"
	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/logger"
	"github.com/lumina-search/lumina-backend/pkg/redis"
	searchclient "github.com/lumina-search/lumina-backend/pkg/search"
	"github.com/lumina-search/lumina-backend/pkg/storage/gcs"
)

const readyCheckTimeout = 5 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Lumina-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings each backing dependency; any failure makes the instance
// not ready. Nil pingers are skipped so partial deployments stay healthy.
func HealthReady(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gcsP gcs.Pinger,
	searchP searchclient.Pinger,
) http.HandlerFunc {
	type check struct {
		name   string
		pinger interface {
			Ping(context.Context) error
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Lumina-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		checks := []check{}
		if dbP != nil {
			checks = append(checks, check{"database", dbP})
		}
		if redisP != nil {
			checks = append(checks, check{"redis", redisP})
		}
		if gcsP != nil {
			checks = append(checks, check{"storage", gcsP})
		}
		if searchP != nil {
			checks = append(checks, check{"search", searchP})
		}

		statuses := map[string]string{}
		for _, c := range checks {
			if err := c.pinger.Ping(ctx); err != nil {
				statuses[c.name] = "down"
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, c.name+" not ready").WithDetails(statuses)
				responses.WriteError(ctx, logg, w, err)
				return
			}
			statuses[c.name] = "ok"
		}

		statuses["status"] = "ready"
		responses.WriteSuccess(w, statuses)
	}
}
