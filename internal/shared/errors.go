package shared

import "errors"

// Sentinel errors forming the core error taxonomy. Services wrap these with
// fmt.Errorf("...: %w", ...) so handlers can map them to HTTP statuses.
var (
	// ErrValidation indicates malformed input, rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the referenced invoice/payment/order does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the operation is not legal for the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a concurrent mutation was detected; safe to retry
	// after re-reading state.
	ErrConflict = errors.New("conflict")
)
