package models

import (
	"errors"
	"fmt"
)

// Application-wide standard errors
var (
	// Validation
	ErrValidation     = errors.New("value outside contractual bounds")
	ErrUnknownOption  = errors.New("option does not belong to decision")
	ErrInvalidInput   = errors.New("invalid input data")
	ErrUnknownMetric  = errors.New("unknown leaderboard category or timeframe")
	ErrDecisionClosed = errors.New("decision is not accepting votes")

	// Voting
	ErrDuplicateVote = errors.New("participant already voted on this decision")
	ErrNoVotesCast   = errors.New("no votes cast for decision")

	// Storage
	ErrNotFound         = errors.New("resource not found")
	ErrStoreUnavailable = errors.New("key-value store unavailable")
	ErrCorruptedRecord  = errors.New("stored record is corrupted")

	// Coordination
	ErrLeaseHeld = errors.New("resolution lease is held by another process")
)

// ValidationError describes which field violated its bounds.
// errors.Is(err, ErrValidation) holds for every ValidationError.
type ValidationError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s=%d outside [%d,%d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsRetryable reports whether the caller may retry the operation as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrLeaseHeld)
}
