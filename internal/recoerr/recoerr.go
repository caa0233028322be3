// Package recoerr defines the error taxonomy for the recommendation core.
//
// Callers distinguish outcomes with errors.Is/errors.As: transient failures
// are retryable, permanent ones are not, and eligibility/availability results
// must never be collapsed into an empty ranking.
package recoerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotEligible means the user lacks sufficient interaction history.
	// It is a normal outcome, not a fault.
	ErrNotEligible = errors.New("user not eligible for recommendations")

	// ErrIndexUnavailable means the backing vector or cluster store is
	// unreachable. Callers fall back to cached scores or brute force.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrRecommendationUnavailable means no usable fallback exists.
	ErrRecommendationUnavailable = errors.New("recommendations unavailable")
)

// TransientError wraps a retryable provider or network failure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps an unrecoverable failure such as malformed input.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IndexUnavailable wraps a store failure as ErrIndexUnavailable, keeping the
// cause in the chain.
func IndexUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
}
