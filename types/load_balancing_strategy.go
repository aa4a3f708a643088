package types

import "time"

// BalanceInput is the view of the lease collection handed to a strategy on
// every control-loop tick.
type BalanceInput struct {
	// HostID identifies the calling host.
	HostID string

	// Leases is the full lease snapshot.
	Leases []Lease

	// Owned holds the leases this host currently processes.
	Owned []Lease

	// ActiveHosts holds hosts known alive through presence. May be empty;
	// strategies also count owners of unexpired leases and the caller itself.
	ActiveHosts []string

	// Now is the time the snapshot was taken.
	Now time.Time

	// ExpirationInterval is the lease expiration interval.
	ExpirationInterval time.Duration
}

// BalanceDecision lists the leases this host should try to acquire and the
// leases it should release.
type BalanceDecision struct {
	Acquire []Lease
	Release []Lease
}

// IsEmpty reports whether the decision requires no action.
func (d BalanceDecision) IsEmpty() bool {
	return len(d.Acquire) == 0 && len(d.Release) == 0
}

// LoadBalancingStrategy computes the desired lease ownership for one host.
//
// Implementations must be pure and deterministic for a given input: every host
// runs the same computation against a shared, eventually consistent view, and
// balance emerges without hosts talking to each other.
type LoadBalancingStrategy interface {
	// Balance returns the leases to acquire and release.
	Balance(in BalanceInput) BalanceDecision
}
