package engine

import "errors"

// ValidationError reports a failed bid or auto-bid precondition. It is
// returned to the caller and never retried automatically; the enclosing
// transaction has already been rolled back when it is seen.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Shared validation failures. These are returned as-is so callers can
// match them with errors.Is; amount-specific failures carry the computed
// minimum and are matched with IsValidation instead.
var (
	ErrAuctionClosed    = &ValidationError{Reason: "auction has already ended"}
	ErrOwnAuction       = &ValidationError{Reason: "sellers cannot bid on their own auction"}
	ErrDuplicateAutoBid = &ValidationError{Reason: "user already has an auto bid for this auction"}
	ErrCeilingTooLow    = &ValidationError{Reason: "maximum amount must be greater than the current price"}
)

var (
	// ErrNotFound marks a missing auction. Settlement and resolution
	// treat it as a benign no-op; the API surfaces it as 404.
	ErrNotFound = errors.New("auction not found")

	// ErrBusy marks a row that could not be locked without blocking,
	// e.g. deleting an auction while a resolver holds its lock.
	ErrBusy = errors.New("auction is locked by a concurrent operation")
)

// IsValidation reports whether err is a precondition failure rather than
// an infrastructure error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
