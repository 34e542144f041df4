package provider

import "fmt"

// Error is a protocol-level provider failure: bad HTTP status, an error
// envelope in the response, a method mismatch, or data violating one of the
// strict response invariants. Retryable marks transport-level failures that
// are expected to clear on a later attempt.
type Error struct {
	Op        string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Op, e.Message)
}

// Errorf builds a non-retryable provider error.
func Errorf(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}

// TransportErrorf builds a retryable provider error for network-level
// failures such as timeouts.
func TransportErrorf(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), Retryable: true}
}
