package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/pkg/enums"
)

// ItemBreakdown counts the member records of a job by outcome.
type ItemBreakdown struct {
	Enriched int `json:"enriched"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// PollResult is the observable state of a job after one poll.
type PollResult struct {
	JobID       uuid.UUID           `json:"job_id"`
	State       enums.BatchJobState `json:"state"`
	SubmittedAt time.Time           `json:"submitted_at"`
	Items       ItemBreakdown       `json:"items"`
}
