package strategy

import (
	"fmt"
	"slices"
	"time"

	"github.com/arloliu/leasefeed/types"
)

var simNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const simExpiration = 30 * time.Second

// cluster is a sequential, conflict-free model of hosts sharing a lease table.
type cluster struct {
	hosts  []string
	leases map[string]*types.Lease
}

func newCluster(leaseCount int, hosts ...string) *cluster {
	c := &cluster{hosts: hosts, leases: make(map[string]*types.Lease, leaseCount)}
	for i := range leaseCount {
		token := fmt.Sprintf("p-%02d", i)
		c.leases[token] = &types.Lease{LeaseToken: token, Timestamp: simNow}
	}

	return c
}

func (c *cluster) snapshot() []types.Lease {
	out := make([]types.Lease, 0, len(c.leases))
	for _, l := range c.leases {
		out = append(out, *l)
	}
	slices.SortFunc(out, func(a, b types.Lease) int {
		if a.LeaseToken < b.LeaseToken {
			return -1
		}
		if a.LeaseToken > b.LeaseToken {
			return 1
		}

		return 0
	})

	return out
}

func (c *cluster) input(host string) types.BalanceInput {
	snap := c.snapshot()
	var owned []types.Lease
	for _, l := range snap {
		if l.Owner == host {
			owned = append(owned, l)
		}
	}

	return types.BalanceInput{
		HostID:             host,
		Leases:             snap,
		Owned:              owned,
		ActiveHosts:        c.hosts,
		Now:                simNow,
		ExpirationInterval: simExpiration,
	}
}

// step runs one tick for host and reports whether anything changed.
func (c *cluster) step(s types.LoadBalancingStrategy, host string) bool {
	d := s.Balance(c.input(host))
	changed := false
	for _, l := range d.Release {
		if cur := c.leases[l.LeaseToken]; cur.Owner == host {
			cur.Owner = ""
			changed = true
		}
	}
	for _, l := range d.Acquire {
		cur := c.leases[l.LeaseToken]
		if cur.Owner == host {
			continue
		}
		if cur.IsAvailable(simExpiration, simNow) {
			cur.Owner = host
			cur.Timestamp = simNow
			changed = true
		}
	}

	return changed
}

// converge runs rounds until no host changes anything. It returns the number
// of rounds, or -1 when maxRounds is exhausted.
func (c *cluster) converge(s types.LoadBalancingStrategy, maxRounds int) int {
	for round := 1; round <= maxRounds; round++ {
		changed := false
		for _, h := range c.hosts {
			if c.step(s, h) {
				changed = true
			}
		}
		if !changed {
			return round
		}
	}

	return -1
}

func (c *cluster) counts() map[string]int {
	out := make(map[string]int, len(c.hosts))
	for _, h := range c.hosts {
		out[h] = 0
	}
	for _, l := range c.leases {
		if l.IsOwned() {
			out[l.Owner]++
		}
	}

	return out
}

func (c *cluster) unowned() int {
	n := 0
	for _, l := range c.leases {
		if !l.IsOwned() {
			n++
		}
	}

	return n
}

func hostNames(n int) []string {
	hosts := make([]string, n)
	for i := range n {
		hosts[i] = fmt.Sprintf("host-%d", i)
	}

	return hosts
}
