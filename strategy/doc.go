// Package strategy provides built-in load balancing strategy implementations.
//
// A strategy runs on every host at every control-loop tick and decides, from
// the shared lease snapshot alone, which leases this host should try to
// acquire and which it should give up. Hosts never talk to each other; balance
// emerges because every host runs the same deterministic computation.
//
//   - EqualShare: spreads leases so per-host counts differ by at most one (default)
//   - ConsistentHash: maps each lease to a host on an xxh3 hash ring, keeping
//     placement stable when hosts join or leave
//
// # Active Hosts
//
// Both strategies count a host as active when it owns at least one unexpired
// lease, when it appears in the presence registry, or when it is the calling
// host itself. A crashed host therefore stops counting once its leases expire
// and its presence entry times out.
//
// # Stealing
//
// Neither strategy takes a lease that another live host holds. Handoff is
// cooperative: the over-target host releases, and an under-target host picks
// the lease up on a later tick.
//
// Custom strategies can be implemented by satisfying the types.LoadBalancingStrategy interface.
package strategy
