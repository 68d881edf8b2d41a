package enums

import "fmt"

// PaymentEventKind classifies a normalized gateway notification.
type PaymentEventKind string

const (
	PaymentEventChargeSucceeded PaymentEventKind = "charge_succeeded"
	PaymentEventChargeFailed    PaymentEventKind = "charge_failed"
	PaymentEventChargeExpired   PaymentEventKind = "charge_expired"
	PaymentEventChargeCanceled  PaymentEventKind = "charge_canceled"
)

var validPaymentEventKinds = []PaymentEventKind{
	PaymentEventChargeSucceeded,
	PaymentEventChargeFailed,
	PaymentEventChargeExpired,
	PaymentEventChargeCanceled,
}

// String implements fmt.Stringer.
func (k PaymentEventKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k PaymentEventKind) IsValid() bool {
	for _, candidate := range validPaymentEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePaymentEventKind converts raw input into a PaymentEventKind.
func ParsePaymentEventKind(value string) (PaymentEventKind, error) {
	for _, candidate := range validPaymentEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment event kind %q", value)
}
