package controllers

import (
	"encoding/base64"
	"net/http"

	"github.com/lumina-search/lumina-backend/api/responses"
	"github.com/lumina-search/lumina-backend/api/validators"
	"github.com/lumina-search/lumina-backend/internal/search"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/logger"
)

type searchRequest struct {
	QueryText  string `json:"query_text" validate:"omitempty,max=1024"`
	QueryImage string `json:"query_image"`
	TopK       int    `json:"top_k" validate:"omitempty,min=1,max=100"`
	Rerank     bool   `json:"rerank"`
}

type searchResponse struct {
	Results []search.Result `json:"results"`
}

// ImageSearch serves lexical and vector queries over enriched records.
func ImageSearch(svc search.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload searchRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var image []byte
		if payload.QueryImage != "" {
			decoded, err := base64.StdEncoding.DecodeString(payload.QueryImage)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "query_image must be base64 encoded"))
				return
			}
			image = decoded
		}

		results, err := svc.Search(r.Context(), search.Query{
			Text:   payload.QueryText,
			Image:  image,
			TopK:   payload.TopK,
			Rerank: payload.Rerank,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, searchResponse{Results: results})
	}
}
