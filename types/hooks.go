package types

import "context"

// Hooks defines callbacks for controller lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the control loop. Hooks receive the controller's lifecycle
// context which will be cancelled during shutdown.
//
// IMPORTANT: Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - The context passed to hooks is cancelled when the controller stops
//   - Hook errors are logged but don't fail controller operations
//
// Example:
//
//	hooks := &leasefeed.Hooks{
//	    OnLeaseAcquired: func(ctx context.Context, lease leasefeed.Lease) error {
//	        log.Printf("now processing %s", lease.LeaseToken)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnLeaseAcquired is called after a lease is acquired and its processor started.
	OnLeaseAcquired func(ctx context.Context, lease Lease) error

	// OnLeaseReleased is called after a lease is released on handoff or shutdown.
	OnLeaseReleased func(ctx context.Context, lease Lease) error

	// OnLeaseLost is called when another host took a lease this host was processing.
	OnLeaseLost func(ctx context.Context, lease Lease) error

	// OnLeaseStateChanged is called on every per-lease state transition.
	OnLeaseStateChanged func(ctx context.Context, leaseToken string, from, to LeaseState) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}
