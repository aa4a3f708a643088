package strategy

import (
	"cmp"
	"slices"

	"github.com/arloliu/leasefeed/types"
)

// EqualShare balances lease counts across active hosts.
//
// With L leases and H active hosts sorted by ID, the host at rank r targets
// floor(L/H) leases, plus one when r < L mod H. Targets therefore sum to L and
// differ by at most one, so once every host reaches its target the per-host
// counts differ by at most one.
//
// A host over its target releases the surplus, highest lease token first,
// but only while some other active host is below its own target. A host
// under its target acquires candidates in preference order (see package doc).
//
// A host whose target is zero never acquires, even when it owns nothing and
// free or expired leases exist. There is no clamp of the target to one:
// targets sum to L, so while any lease is free or expired some other active
// host is below its target and that host takes it.
type EqualShare struct{}

var _ types.LoadBalancingStrategy = (*EqualShare)(nil)

// NewEqualShare creates the equal-share strategy.
//
// Example:
//
//	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed, obs,
//	    leasefeed.WithStrategy(strategy.NewEqualShare()))
func NewEqualShare() *EqualShare {
	return &EqualShare{}
}

// Targets returns the per-host target lease counts for leaseCount leases
// spread over the sorted hosts.
func Targets(hosts []string, leaseCount int) map[string]int {
	targets := make(map[string]int, len(hosts))
	if len(hosts) == 0 {
		return targets
	}

	base, extra := leaseCount/len(hosts), leaseCount%len(hosts)
	for rank, h := range hosts {
		targets[h] = base
		if rank < extra {
			targets[h]++
		}
	}

	return targets
}

// Balance implements types.LoadBalancingStrategy.
func (s *EqualShare) Balance(in types.BalanceInput) types.BalanceDecision {
	hosts := ActiveHosts(in)
	targets := Targets(hosts, len(in.Leases))
	owned := ownedSet(in)
	ownedCount := len(owned)
	target := targets[in.HostID]

	// Unexpired ownership of every other host.
	counts := make(map[string]int, len(hosts))
	for _, l := range in.Leases {
		if l.IsOwned() && l.Owner != in.HostID && !l.IsExpired(in.ExpirationInterval, in.Now) {
			counts[l.Owner]++
		}
	}
	deficitElsewhere := false
	for _, h := range hosts {
		if h != in.HostID && counts[h] < targets[h] {
			deficitElsewhere = true
			break
		}
	}

	var decision types.BalanceDecision
	switch {
	case ownedCount > target && deficitElsewhere:
		mine := make([]types.Lease, 0, ownedCount)
		for _, l := range owned {
			mine = append(mine, l)
		}
		slices.SortFunc(mine, func(a, b types.Lease) int {
			return cmp.Compare(b.LeaseToken, a.LeaseToken)
		})
		decision.Release = mine[:ownedCount-target]

	case ownedCount < target:
		cands := candidates(in, owned)
		n := min(target-ownedCount, len(cands))
		decision.Acquire = cands[:n]
	}

	return decision
}
