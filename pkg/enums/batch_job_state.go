package enums

import "fmt"

// BatchJobState describes the lifecycle of an inference batch job.
type BatchJobState string

const (
	BatchJobStateCreated         BatchJobState = "created"
	BatchJobStateInProgress      BatchJobState = "in_progress"
	BatchJobStateCompleted       BatchJobState = "completed"
	BatchJobStatePartiallyFailed BatchJobState = "partially_failed"
	BatchJobStateFailed          BatchJobState = "failed"
)

var validBatchJobStates = []BatchJobState{
	BatchJobStateCreated,
	BatchJobStateInProgress,
	BatchJobStateCompleted,
	BatchJobStatePartiallyFailed,
	BatchJobStateFailed,
}

// String returns the literal string for the state.
func (s BatchJobState) String() string {
	return string(s)
}

// IsValid reports whether the state is known.
func (s BatchJobState) IsValid() bool {
	for _, candidate := range validBatchJobStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the job requires no further polling.
func (s BatchJobState) IsTerminal() bool {
	switch s {
	case BatchJobStateCompleted, BatchJobStatePartiallyFailed, BatchJobStateFailed:
		return true
	}
	return false
}

// ParseBatchJobState converts raw input into a BatchJobState.
func ParseBatchJobState(value string) (BatchJobState, error) {
	for _, candidate := range validBatchJobStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid batch job state %q", value)
}
