package enums

import "fmt"

// ImageStatus describes the lifecycle state of an image record.
type ImageStatus string

const (
	ImageStatusPending   ImageStatus = "pending"
	ImageStatusSubmitted ImageStatus = "submitted"
	ImageStatusEnriching ImageStatus = "enriching"
	ImageStatusEnriched  ImageStatus = "enriched"
	ImageStatusFailed    ImageStatus = "failed"
	ImageStatusDeleted   ImageStatus = "deleted"
)

var validImageStatuses = []ImageStatus{
	ImageStatusPending,
	ImageStatusSubmitted,
	ImageStatusEnriching,
	ImageStatusEnriched,
	ImageStatusFailed,
	ImageStatusDeleted,
}

// imageStatusRank orders the forward-only lifecycle. Deleted is reachable
// from any state and compares highest.
var imageStatusRank = map[ImageStatus]int{
	ImageStatusPending:   0,
	ImageStatusSubmitted: 1,
	ImageStatusEnriching: 2,
	ImageStatusEnriched:  3,
	ImageStatusFailed:    3,
	ImageStatusDeleted:   4,
}

// String returns the literal string for the status.
func (s ImageStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s ImageStatus) IsValid() bool {
	for _, candidate := range validImageStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further pipeline work.
func (s ImageStatus) IsTerminal() bool {
	return s == ImageStatusEnriched || s == ImageStatusFailed || s == ImageStatusDeleted
}

// CanTransitionTo reports whether moving from s to next respects the
// forward-only lifecycle. Pending is reachable again only through the
// explicit update path, which is validated separately.
func (s ImageStatus) CanTransitionTo(next ImageStatus) bool {
	if next == ImageStatusDeleted {
		return true
	}
	from, ok := imageStatusRank[s]
	if !ok {
		return false
	}
	to, ok := imageStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// ParseImageStatus converts raw input into an ImageStatus.
func ParseImageStatus(value string) (ImageStatus, error) {
	for _, candidate := range validImageStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid image status %q", value)
}
