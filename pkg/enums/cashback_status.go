package enums

import "fmt"

// CashbackStatus tracks a cashback transaction from accrual to settlement.
type CashbackStatus string

const (
	CashbackStatusPending  CashbackStatus = "pending"
	CashbackStatusApproved CashbackStatus = "approved"
	CashbackStatusCanceled CashbackStatus = "canceled"
)

var validCashbackStatuses = []CashbackStatus{
	CashbackStatusPending,
	CashbackStatusApproved,
	CashbackStatusCanceled,
}

// String implements fmt.Stringer.
func (s CashbackStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s CashbackStatus) IsValid() bool {
	for _, candidate := range validCashbackStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCashbackStatus converts raw input into a CashbackStatus.
func ParseCashbackStatus(value string) (CashbackStatus, error) {
	for _, candidate := range validCashbackStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cashback status %q", value)
}
