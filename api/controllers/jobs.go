package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/api/responses"
	"github.com/lumina-search/lumina-backend/api/validators"
	"github.com/lumina-search/lumina-backend/internal/jobs"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/logger"
)

// JobStateChecker answers on-demand job status checks, coalescing with any
// concurrent poll of the same job.
type JobStateChecker interface {
	CheckJobState(ctx context.Context, jobID uuid.UUID) (*jobs.PollResult, error)
}

type checkJobStateRequest struct {
	JobIDs []string `json:"job_ids" validate:"required,min=1,max=100,dive,uuid"`
}

type checkJobStateItem struct {
	JobID  string           `json:"job_id"`
	Result *jobs.PollResult `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type checkJobStateResponse struct {
	Jobs []checkJobStateItem `json:"jobs"`
}

// CheckBatchJobState reconciles the requested jobs against the inference
// backend and returns their current summaries. Jobs fail independently;
// an unknown id is reported on its own entry.
func CheckBatchJobState(checker JobStateChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload checkJobStateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := checkJobStateResponse{Jobs: make([]checkJobStateItem, 0, len(payload.JobIDs))}
		for _, raw := range payload.JobIDs {
			jobID, err := uuid.Parse(raw)
			if err != nil {
				out.Jobs = append(out.Jobs, checkJobStateItem{JobID: raw, Error: "invalid job id"})
				continue
			}

			result, err := checker.CheckJobState(r.Context(), jobID)
			if err != nil {
				message := pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage
				if pkgErr := pkgerrors.As(err); pkgErr != nil {
					message = pkgErr.Message()
				}
				out.Jobs = append(out.Jobs, checkJobStateItem{JobID: raw, Error: message})
				continue
			}
			out.Jobs = append(out.Jobs, checkJobStateItem{JobID: raw, Result: result})
		}
		responses.WriteSuccess(w, out)
	}
}
