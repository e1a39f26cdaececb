package enums

// ItemOutcome is the per-image verdict reported by the inference service
// within a batch job result page.
type ItemOutcome string

const (
	ItemOutcomeSucceeded ItemOutcome = "succeeded"
	ItemOutcomeFailed    ItemOutcome = "failed"
)

// String returns the literal string for the outcome.
func (o ItemOutcome) String() string {
	return string(o)
}
