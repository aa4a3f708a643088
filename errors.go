package leasefeed

import "github.com/arloliu/leasefeed/types"

// Sentinel errors re-exported from the types package.
var (
	ErrInvalidConfig      = types.ErrInvalidConfig
	ErrLeaseStoreRequired = types.ErrLeaseStoreRequired
	ErrChangeFeedRequired = types.ErrChangeFeedRequired
	ErrObserverRequired   = types.ErrObserverRequired
	ErrInvalidHostID      = types.ErrInvalidHostID
	ErrAlreadyStarted     = types.ErrAlreadyStarted
	ErrNotStarted         = types.ErrNotStarted

	ErrLeaseLost        = types.ErrLeaseLost
	ErrLeaseNotFound    = types.ErrLeaseNotFound
	ErrStoreUnavailable = types.ErrStoreUnavailable

	ErrFeedUnavailable          = types.ErrFeedUnavailable
	ErrInvalidContinuationToken = types.ErrInvalidContinuationToken

	ErrProcessorStopped = types.ErrProcessorStopped
	ErrObserverFailed   = types.ErrObserverFailed
)

// ConflictError is returned by lease stores when a concurrency precondition fails.
type ConflictError = types.ConflictError

// IsTransient reports whether an operation that failed with err may succeed when retried.
func IsTransient(err error) bool {
	return types.IsTransient(err)
}
