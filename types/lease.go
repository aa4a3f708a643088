package types

import (
	"fmt"
	"maps"
	"time"
)

// Lease represents exclusive, time-bounded ownership of one feed partition.
//
// A lease is written only through compare-and-swap operations on a LeaseStore.
// ConcurrencyToken carries the precondition for the next write: it must be the
// token returned by the most recent successful read or write of this lease.
type Lease struct {
	// LeaseToken is the stable identifier of the partition. Immutable.
	LeaseToken string `json:"leaseToken"`

	// Owner is the host currently holding the lease. Empty means unowned.
	Owner string `json:"owner,omitempty"`

	// ContinuationToken is the opaque feed cursor of the last durably
	// processed position. It never regresses.
	ContinuationToken string `json:"continuationToken,omitempty"`

	// Timestamp is the time of the last write (acquire, renew, checkpoint).
	Timestamp time.Time `json:"timestamp"`

	// ConcurrencyToken is the optimistic-concurrency tag assigned by the store.
	ConcurrencyToken string `json:"-"`

	// Properties holds strategy-specific metadata.
	Properties map[string]string `json:"properties,omitempty"`
}

// IsOwned reports whether the lease has an owner recorded.
func (l Lease) IsOwned() bool {
	return l.Owner != ""
}

// IsOwnedBy reports whether hostID is the recorded owner.
func (l Lease) IsOwnedBy(hostID string) bool {
	return l.Owner != "" && l.Owner == hostID
}

// IsExpired reports whether the lease has not been written for longer than
// the expiration interval.
//
// An expired lease is acquirable by any host regardless of its Owner field.
// A lease written exactly expiration ago is not yet expired.
//
// Parameters:
//   - expiration: Lease expiration interval
//   - now: Current time
//
// Returns:
//   - bool: true if now - Timestamp > expiration
func (l Lease) IsExpired(expiration time.Duration, now time.Time) bool {
	return now.Sub(l.Timestamp) > expiration
}

// IsAvailable reports whether a host other than the owner may try to acquire
// the lease: it is either unowned or expired.
func (l Lease) IsAvailable(expiration time.Duration, now time.Time) bool {
	return !l.IsOwned() || l.IsExpired(expiration, now)
}

// Clone returns a deep copy of the lease.
func (l Lease) Clone() Lease {
	out := l
	if l.Properties != nil {
		out.Properties = maps.Clone(l.Properties)
	}

	return out
}

// String returns a compact representation suitable for logs.
func (l Lease) String() string {
	owner := l.Owner
	if owner == "" {
		owner = "<none>"
	}

	return fmt.Sprintf("Lease{token=%s owner=%s continuation=%q etag=%s}",
		l.LeaseToken, owner, l.ContinuationToken, l.ConcurrencyToken)
}
