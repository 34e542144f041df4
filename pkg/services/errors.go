package services

import "fmt"

// IntegrityError marks a consistency violation in the reconciliation data:
// a refund completed twice, a returned payment whose amount disagrees with
// the original, an unparseable reference on a transaction that should carry
// one. These are programming or data errors, never retried blindly: the
// current cycle aborts and rolls back so an operator can look at it.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string {
	return "integrity violation: " + e.Message
}

func integrityf(format string, args ...any) error {
	return &IntegrityError{Message: fmt.Sprintf(format, args...)}
}
