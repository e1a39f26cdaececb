package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/api/responses"
	"github.com/lumina-search/lumina-backend/api/validators"
	"github.com/lumina-search/lumina-backend/internal/batch"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/logger"
)

type batchEnrichRequest struct {
	ImageIDs []string `json:"image_ids" validate:"required,min=1,max=1000,dive,uuid"`
}

// BatchEnrich submits the named pending records for description enrichment.
func BatchEnrich(svc batch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload batchEnrichRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ids := make([]uuid.UUID, 0, len(payload.ImageIDs))
		for _, raw := range payload.ImageIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid image id"))
				return
			}
			ids = append(ids, id)
		}

		report, err := svc.Enqueue(r.Context(), ids)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, report)
	}
}
