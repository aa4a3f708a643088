package types

import "context"

// ObserverContext identifies the partition a batch was read from.
type ObserverContext struct {
	// PartitionToken is the source partition.
	PartitionToken string

	// Lease is the lease held by the processor when the batch was read.
	Lease Lease

	// HostID identifies the host running the processor.
	HostID string
}

// Observer is the application callback receiving batches of changes.
//
// Delivery is at-least-once: a batch can be redelivered after a failure,
// a crash, or a lease handoff, so implementations must be idempotent.
// Calls for one partition are sequential; calls for different partitions run
// concurrently.
type Observer interface {
	// ProcessChanges handles one batch. A non-nil error is treated according
	// to the configured observer error policy.
	ProcessChanges(ctx context.Context, oc ObserverContext, changes []Change) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, oc ObserverContext, changes []Change) error

// ProcessChanges calls f.
func (f ObserverFunc) ProcessChanges(ctx context.Context, oc ObserverContext, changes []Change) error {
	return f(ctx, oc, changes)
}

// CloseReason tells an observer why a partition stopped being processed.
type CloseReason int

const (
	// CloseReasonShutdown means the processor was stopped on request (shutdown or rebalance).
	CloseReasonShutdown CloseReason = iota

	// CloseReasonLeaseLost means another host took the lease.
	CloseReasonLeaseLost

	// CloseReasonLeaseGone means the lease was deleted because its partition disappeared.
	CloseReasonLeaseGone

	// CloseReasonObserverError means the observer failed and fail-fast is enabled.
	CloseReasonObserverError
)

// String returns the string representation of the close reason.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonShutdown:
		return "Shutdown"
	case CloseReasonLeaseLost:
		return "LeaseLost"
	case CloseReasonLeaseGone:
		return "LeaseGone"
	case CloseReasonObserverError:
		return "ObserverError"
	default:
		return "Unknown"
	}
}

// ObserverLifecycle is optionally implemented by an Observer that needs to
// know when processing of a partition starts and ends.
type ObserverLifecycle interface {
	// Open is called once before the first read of a partition.
	// Returning an error stops the processor before it reads anything.
	Open(ctx context.Context, oc ObserverContext) error

	// Close is called once after the processor has exited.
	Close(ctx context.Context, oc ObserverContext, reason CloseReason)
}
