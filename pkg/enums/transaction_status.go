package enums

import "fmt"

// TransactionStatus tracks whether a loan, or one of its items, is still out.
type TransactionStatus string

const (
	TransactionStatusBorrowed TransactionStatus = "borrowed"
	TransactionStatusReturned TransactionStatus = "returned"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusBorrowed,
	TransactionStatusReturned,
}

// String implements fmt.Stringer.
func (t TransactionStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionStatus.
func (t TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
