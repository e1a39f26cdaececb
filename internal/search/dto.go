package search

import "time"

// Query is one search request. At least one of Text or Image must be set;
// Rerank additionally requires Text.
type Query struct {
	Text   string
	Image  []byte
	TopK   int
	Rerank bool
}

// Result is a single ranked hit.
type Result struct {
	ID          string    `json:"id"`
	Score       float64   `json:"score"`
	Description string    `json:"description"`
	ImagePath   string    `json:"image_path"`
	UpdatedAt   time.Time `json:"updated_at"`
}
