package enums

import "testing"

func TestParseEventOutcome(t *testing.T) {
	for _, valid := range []string{"success", "unknown_invoice", "state_conflict", "error"} {
		outcome, err := ParseEventOutcome(valid)
		if err != nil {
			t.Fatalf("expected %q to parse: %v", valid, err)
		}
		if outcome.String() != valid {
			t.Fatalf("expected %q got %q", valid, outcome)
		}
	}

	// Events rejected before ledger admission never receive an outcome, so
	// values like not_actionable must not round-trip from stored rows.
	for _, invalid := range []string{"", "not_actionable", "pending"} {
		if _, err := ParseEventOutcome(invalid); err == nil {
			t.Fatalf("expected %q to be rejected", invalid)
		}
	}
}

func TestEventOutcomeIsValid(t *testing.T) {
	if !EventOutcomeSuccess.IsValid() {
		t.Fatal("success should be valid")
	}
	if EventOutcome("not_actionable").IsValid() {
		t.Fatal("not_actionable is not a ledger outcome")
	}
}
