package types

import (
	"context"
	"time"
)

// LeaseStore persists leases in a store shared by every host.
//
// Every write takes the lease as last read by the caller and uses its
// ConcurrencyToken as the precondition. A successful write returns the updated
// lease with a fresh ConcurrencyToken and a refreshed Timestamp.
//
// Error contract:
//   - ErrStoreUnavailable (wrapped): transient, the caller retries with backoff
//   - ErrLeaseLost (usually via *ConflictError): the precondition no longer holds
//   - ErrLeaseNotFound: the lease was deleted concurrently
//
// Implementations must be safe for concurrent use.
type LeaseStore interface {
	// ListLeases returns a snapshot of all leases known for the feed.
	ListLeases(ctx context.Context) ([]Lease, error)

	// CreateIfNotExists creates an unowned lease for the partition if absent.
	//
	// The call is idempotent: when the lease already exists the stored lease is
	// returned with created=false.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - leaseToken: Partition identifier
	//
	// Returns:
	//   - Lease: Created or existing lease
	//   - bool: true if this call created the lease
	//   - error: Store error
	CreateIfNotExists(ctx context.Context, leaseToken string) (Lease, bool, error)

	// Acquire sets owner on the lease, conditioned on lease.ConcurrencyToken.
	Acquire(ctx context.Context, lease Lease, owner string) (Lease, error)

	// Renew refreshes the lease timestamp, conditioned on lease.ConcurrencyToken.
	Renew(ctx context.Context, lease Lease) (Lease, error)

	// Checkpoint stores a new continuation token, conditioned on lease.ConcurrencyToken.
	Checkpoint(ctx context.Context, lease Lease, continuationToken string) (Lease, error)

	// UpdateProperties replaces the lease properties, conditioned on lease.ConcurrencyToken.
	UpdateProperties(ctx context.Context, lease Lease, properties map[string]string) (Lease, error)

	// Release clears the owner, conditioned on lease.ConcurrencyToken.
	//
	// Release is best-effort from the caller's point of view: when it fails the
	// lease expires on its own.
	Release(ctx context.Context, lease Lease) (Lease, error)

	// Delete removes a lease whose partition no longer exists, conditioned on
	// lease.ConcurrencyToken.
	Delete(ctx context.Context, lease Lease) error
}

// PresenceRegistry records which hosts are alive.
//
// Presence lets a host that owns no lease yet be counted when targets are
// computed. It is optional: without it only lease owners count as active.
type PresenceRegistry interface {
	// Heartbeat marks hostID alive for at least ttl.
	Heartbeat(ctx context.Context, hostID string, ttl time.Duration) error

	// ActiveHosts returns the hosts with an unexpired heartbeat.
	ActiveHosts(ctx context.Context) ([]string, error)

	// Deregister removes hostID immediately.
	Deregister(ctx context.Context, hostID string) error
}
