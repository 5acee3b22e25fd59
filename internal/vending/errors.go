package vending

import "fmt"

// The coordinator surfaces failures through a small taxonomy so transports can
// map them without inspecting message text. Validation and not-found errors
// return to the caller untouched; transition conflicts are terminal for the
// request (the caller must re-fetch state); only pickup-code and order-number
// allocation retries internally before surfacing a conflict.

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an absent order, product, or machine.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func NotFound(format string, args ...any) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a request the current state does not admit: an illegal
// status transition, insufficient stock, an already-paid order, or exhausted
// pickup-code allocation retries.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// UnavailableError reports a machine that is offline or not operational.
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string { return e.Message }

func Unavailable(format string, args ...any) error {
	return &UnavailableError{Message: fmt.Sprintf(format, args...)}
}

// GatewayError reports a payment-gateway failure or a webhook signature
// mismatch. It is surfaced as-is to the webhook caller so the gateway's own
// retry policy applies.
type GatewayError struct {
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// ErrPickupCodeExpired distinguishes an expired pickup code from an unknown
// one; the customer can request a fresh code instead of re-typing.
var ErrPickupCodeExpired = &ConflictError{Message: "pickup code has expired"}
