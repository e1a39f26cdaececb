package controllers

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/api/responses"
	"github.com/lumina-search/lumina-backend/api/validators"
	"github.com/lumina-search/lumina-backend/internal/images"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/logger"
	"github.com/lumina-search/lumina-backend/pkg/pagination"
)

type imageUploadRequest struct {
	Data            string `json:"data" validate:"required"`
	Description     string `json:"description" validate:"omitempty,max=4096"`
	ForceNewVersion bool   `json:"force_new_version"`
}

type imageUpdateRequest struct {
	Data string `json:"data" validate:"required"`
}

type imageBatchUploadRequest struct {
	Images []imageUploadRequest `json:"images" validate:"required,min=1,max=100,dive"`
}

type imageBatchUploadItem struct {
	ID           string `json:"id,omitempty"`
	Status       string `json:"status,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Error        string `json:"error,omitempty"`
}

type imageBatchUploadResponse struct {
	Items []imageBatchUploadItem `json:"items"`
}

type imageResponse struct {
	ID           string    `json:"id"`
	StorageRef   string    `json:"storage_ref"`
	ContentHash  string    `json:"content_hash"`
	Status       string    `json:"status"`
	Description  *string   `json:"description,omitempty"`
	Version      int64     `json:"version"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Deduplicated bool      `json:"deduplicated,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type imageListResponse struct {
	Images     []imageResponse `json:"images"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func toImageResponse(record *models.ImageRecord, deduplicated bool) imageResponse {
	return imageResponse{
		ID:           record.ID.String(),
		StorageRef:   record.StorageRef,
		ContentHash:  record.ContentHash,
		Status:       string(record.Status),
		Description:  record.Description,
		Version:      record.Version,
		MimeType:     record.MimeType,
		SizeBytes:    record.SizeBytes,
		Deduplicated: deduplicated,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func decodeImageData(raw string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "data must be base64 encoded")
	}
	return data, nil
}

func parseImageID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "image_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid image id")
	}
	return id, nil
}

// ImageUpload stores uploaded bytes and registers a pending record.
func ImageUpload(svc images.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload imageUploadRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		data, err := decodeImageData(payload.Data)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out, err := svc.Create(r.Context(), images.CreateInput{
			Data:            data,
			Description:     validators.SanitizeString(payload.Description, 4096),
			ForceNewVersion: payload.ForceNewVersion,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if out.Deduplicated {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, toImageResponse(out.Record, out.Deduplicated))
	}
}

// ImageBatchUpload stores several images in one request. Items fail
// independently; the response reports each outcome in input order.
func ImageBatchUpload(svc images.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload imageBatchUploadRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := imageBatchUploadResponse{Items: make([]imageBatchUploadItem, 0, len(payload.Images))}
		for _, item := range payload.Images {
			out.Items = append(out.Items, uploadOne(r, svc, item))
		}
		responses.WriteSuccess(w, out)
	}
}

func uploadOne(r *http.Request, svc images.Service, item imageUploadRequest) imageBatchUploadItem {
	data, err := decodeImageData(item.Data)
	if err != nil {
		return imageBatchUploadItem{Error: pkgerrors.As(err).Message()}
	}

	created, err := svc.Create(r.Context(), images.CreateInput{
		Data:            data,
		Description:     validators.SanitizeString(item.Description, 4096),
		ForceNewVersion: item.ForceNewVersion,
	})
	if err != nil {
		if pkgErr := pkgerrors.As(err); pkgErr != nil {
			return imageBatchUploadItem{Error: pkgErr.Message()}
		}
		return imageBatchUploadItem{Error: pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage}
	}
	return imageBatchUploadItem{
		ID:           created.Record.ID.String(),
		Status:       string(created.Record.Status),
		Deduplicated: created.Deduplicated,
	}
}

// ImageUpdate replaces the stored bytes of an existing record.
func ImageUpdate(svc images.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseImageID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload imageUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		data, err := decodeImageData(payload.Data)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Update(r.Context(), id, data)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toImageResponse(record, false))
	}
}

// ImageDelete tombstones a record. Repeated deletes succeed.
func ImageDelete(svc images.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseImageID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"id": id.String(), "status": string(enums.ImageStatusDeleted)})
	}
}

// ImageGet returns a single record by id.
func ImageGet(svc images.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseImageID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toImageResponse(record, false))
	}
}

// ImageList pages through records, optionally filtered by status.
func ImageList(svc images.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := images.ListFilter{
			Pagination: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseImageStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter"))
				return
			}
			filter.Status = &status
		}

		result, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := imageListResponse{
			Images:     make([]imageResponse, 0, len(result.Records)),
			NextCursor: result.NextCursor,
		}
		for i := range result.Records {
			out.Images = append(out.Images, toImageResponse(&result.Records[i], false))
		}
		responses.WriteSuccess(w, out)
	}
}
