package images

import (
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	"github.com/lumina-search/lumina-backend/pkg/pagination"
)

// CreateInput models an image upload.
type CreateInput struct {
	Data            []byte
	Description     string
	ForceNewVersion bool
}

// CreateOutput reports the stored record; Deduplicated is true when the bytes
// resolved to an existing record instead of creating one.
type CreateOutput struct {
	Record       *models.ImageRecord
	Deduplicated bool
}

// ListFilter narrows a List call. Zero values mean no filtering.
type ListFilter struct {
	Status      *enums.ImageStatus
	ContentHash string
	Pagination  pagination.Params
}

// ListResult is one page of records plus the cursor for the next page.
type ListResult struct {
	Records    []models.ImageRecord
	NextCursor string
}
