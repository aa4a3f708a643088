package types

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the leasefeed library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Controller, LeaseStore, ChangeFeed, Processor)
//   - Use consistent messages across similar error types

// Controller errors - Public API errors returned by the Controller.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrLeaseStoreRequired is returned when the lease store is nil.
	ErrLeaseStoreRequired = errors.New("lease store is required")

	// ErrChangeFeedRequired is returned when the change feed is nil.
	ErrChangeFeedRequired = errors.New("change feed is required")

	// ErrObserverRequired is returned when the observer is nil.
	ErrObserverRequired = errors.New("observer is required")

	// ErrInvalidHostID is returned when the host ID is empty or malformed.
	ErrInvalidHostID = errors.New("invalid host ID")

	// ErrAlreadyStarted is returned when Start is called on an already running controller.
	ErrAlreadyStarted = errors.New("controller already started")

	// ErrNotStarted is returned when operations require a started controller.
	ErrNotStarted = errors.New("controller not started")
)

// LeaseStore errors.
var (
	// ErrLeaseLost is returned when a write's concurrency precondition no
	// longer holds: another host changed the lease since it was read.
	ErrLeaseLost = errors.New("lease lost")

	// ErrLeaseNotFound is returned when the lease was deleted concurrently.
	ErrLeaseNotFound = errors.New("lease not found")

	// ErrStoreUnavailable indicates a transient lease store failure.
	ErrStoreUnavailable = errors.New("lease store unavailable")
)

// ChangeFeed errors.
var (
	// ErrFeedUnavailable indicates a transient change feed failure.
	ErrFeedUnavailable = errors.New("change feed unavailable")

	// ErrInvalidContinuationToken is returned for a malformed continuation token.
	ErrInvalidContinuationToken = errors.New("invalid continuation token")
)

// Processor errors.
var (
	// ErrProcessorStopped is returned when operating on a stopped processor,
	// including a lease write attempted after the processor was aborted.
	ErrProcessorStopped = errors.New("processor stopped")

	// ErrObserverFailed wraps an observer error that stopped a processor.
	ErrObserverFailed = errors.New("observer failed")
)

// ConflictError reports a failed concurrency precondition on a lease write.
//
// errors.Is(err, ErrLeaseLost) is true for any *ConflictError.
type ConflictError struct {
	// LeaseToken identifies the lease.
	LeaseToken string

	// Expected is the concurrency token presented by the caller.
	Expected string

	// Actual is the concurrency token found in the store, when known.
	Actual string
}

// NewConflictError creates a ConflictError for the given lease.
func NewConflictError(lease Lease, actual string) *ConflictError {
	return &ConflictError{
		LeaseToken: lease.LeaseToken,
		Expected:   lease.ConcurrencyToken,
		Actual:     actual,
	}
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("lease %s: concurrency token %q is stale: %s", e.LeaseToken, e.Expected, ErrLeaseLost)
	}

	return fmt.Sprintf("lease %s: concurrency token %q is stale (current %q): %s",
		e.LeaseToken, e.Expected, e.Actual, ErrLeaseLost)
}

// Is matches ErrLeaseLost.
func (e *ConflictError) Is(target error) bool {
	return target == ErrLeaseLost
}

// IsLeaseLost reports whether err means the caller no longer owns the lease.
func IsLeaseLost(err error) bool {
	return errors.Is(err, ErrLeaseLost)
}

// IsLeaseNotFound reports whether err means the lease was deleted.
func IsLeaseNotFound(err error) bool {
	return errors.Is(err, ErrLeaseNotFound)
}

// IsTransient reports whether an operation that failed with err may succeed
// when retried.
//
// Errors wrapping ErrStoreUnavailable or ErrFeedUnavailable are transient even
// when they also wrap a per-operation deadline. Lease loss, deletion,
// malformed tokens and bare context errors are permanent. Anything else is
// treated as transient.
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the operation should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrFeedUnavailable):
		return true
	case errors.Is(err, ErrLeaseLost),
		errors.Is(err, ErrLeaseNotFound),
		errors.Is(err, ErrInvalidContinuationToken),
		errors.Is(err, ErrProcessorStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
