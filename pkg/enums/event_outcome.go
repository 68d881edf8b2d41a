package enums

import "fmt"

// EventOutcome records how a gateway event was resolved by the reconciliation
// pipeline. Outcomes other than error are final; error rows are eligible for
// the stuck-event sweep. Events rejected before ledger admission (bad
// signatures, connectivity pings) never get an outcome.
type EventOutcome string

const (
	EventOutcomeSuccess        EventOutcome = "success"
	EventOutcomeUnknownInvoice EventOutcome = "unknown_invoice"
	EventOutcomeStateConflict  EventOutcome = "state_conflict"
	EventOutcomeError          EventOutcome = "error"
)

var validEventOutcomes = []EventOutcome{
	EventOutcomeSuccess,
	EventOutcomeUnknownInvoice,
	EventOutcomeStateConflict,
	EventOutcomeError,
}

// String implements fmt.Stringer.
func (o EventOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is known.
func (o EventOutcome) IsValid() bool {
	for _, candidate := range validEventOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseEventOutcome converts raw input into an EventOutcome.
func ParseEventOutcome(value string) (EventOutcome, error) {
	for _, candidate := range validEventOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event outcome %q", value)
}
