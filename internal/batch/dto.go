package batch

import "github.com/google/uuid"

// SkippedItem explains why a requested id was left out of a batch.
type SkippedItem struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// EnqueueReport summarizes one submission round: the jobs created and the
// per-item skips.
type EnqueueReport struct {
	JobIDs    []uuid.UUID   `json:"job_ids"`
	Submitted int           `json:"submitted"`
	Skipped   []SkippedItem `json:"skipped"`
}
