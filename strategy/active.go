package strategy

import (
	"cmp"
	"slices"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/leasefeed/types"
)

// ActiveHosts returns the sorted set of hosts considered alive for in:
// owners of unexpired leases, presence hosts, and the calling host.
func ActiveHosts(in types.BalanceInput) []string {
	seen := map[string]struct{}{in.HostID: {}}
	for _, l := range in.Leases {
		if l.IsOwned() && !l.IsExpired(in.ExpirationInterval, in.Now) {
			seen[l.Owner] = struct{}{}
		}
	}
	for _, h := range in.ActiveHosts {
		if h != "" {
			seen[h] = struct{}{}
		}
	}

	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)

	return hosts
}

// ownedSet indexes the leases this host processes by token.
func ownedSet(in types.BalanceInput) map[string]types.Lease {
	owned := make(map[string]types.Lease, len(in.Owned))
	for _, l := range in.Owned {
		owned[l.LeaseToken] = l
	}

	return owned
}

// candidates returns the leases this host may try to acquire, in preference order:
//  1. orphans: stored owner is this host but no processor runs for it
//  2. unowned leases, in a per-host pseudo-random order so hosts spread out
//  3. expired leases owned by someone else, oldest timestamp first
func candidates(in types.BalanceInput, owned map[string]types.Lease) []types.Lease {
	var orphans, free, expired []types.Lease
	for _, l := range in.Leases {
		if _, ok := owned[l.LeaseToken]; ok {
			continue
		}

		switch {
		case l.IsOwnedBy(in.HostID):
			orphans = append(orphans, l)
		case !l.IsOwned():
			free = append(free, l)
		case l.IsExpired(in.ExpirationInterval, in.Now):
			expired = append(expired, l)
		}
	}

	slices.SortFunc(orphans, func(a, b types.Lease) int {
		return cmp.Compare(a.LeaseToken, b.LeaseToken)
	})

	seed := xxh3.HashString(in.HostID)
	slices.SortFunc(free, func(a, b types.Lease) int {
		ha := xxh3.HashStringSeed(a.LeaseToken, seed)
		hb := xxh3.HashStringSeed(b.LeaseToken, seed)
		if c := cmp.Compare(ha, hb); c != 0 {
			return c
		}

		return cmp.Compare(a.LeaseToken, b.LeaseToken)
	})

	slices.SortFunc(expired, func(a, b types.Lease) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}

		return cmp.Compare(a.LeaseToken, b.LeaseToken)
	})

	out := make([]types.Lease, 0, len(orphans)+len(free)+len(expired))
	out = append(out, orphans...)
	out = append(out, free...)
	out = append(out, expired...)

	return out
}
