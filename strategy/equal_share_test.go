package strategy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leasefeed/types"
)

func TestTargets(t *testing.T) {
	tests := []struct {
		name   string
		hosts  []string
		leases int
		want   map[string]int
	}{
		{"no hosts", nil, 4, map[string]int{}},
		{"even split", []string{"a", "b"}, 4, map[string]int{"a": 2, "b": 2}},
		{"remainder to lowest ranks", []string{"a", "b", "c"}, 5, map[string]int{"a": 2, "b": 2, "c": 1}},
		{"fewer leases than hosts", []string{"a", "b", "c"}, 1, map[string]int{"a": 1, "b": 0, "c": 0}},
		{"no leases", []string{"a"}, 0, map[string]int{"a": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Targets(tt.hosts, tt.leases))
		})
	}
}

func TestEqualShare_SingleHostTakesEverything(t *testing.T) {
	c := newCluster(4, "host-a")
	require.Positive(t, c.converge(NewEqualShare(), 10))
	require.Equal(t, map[string]int{"host-a": 4}, c.counts())
}

func TestEqualShare_Convergence(t *testing.T) {
	s := NewEqualShare()
	for hostCount := 1; hostCount <= 6; hostCount++ {
		for leaseCount := 0; leaseCount <= 20; leaseCount++ {
			t.Run(fmt.Sprintf("H=%d/L=%d", hostCount, leaseCount), func(t *testing.T) {
				c := newCluster(leaseCount, hostNames(hostCount)...)
				require.Positive(t, c.converge(s, 50), "did not converge")
				require.Zero(t, c.unowned())

				lo, hi := leaseCount, 0
				for _, n := range c.counts() {
					lo = min(lo, n)
					hi = max(hi, n)
				}
				require.LessOrEqual(t, hi-lo, 1, "counts: %v", c.counts())
			})
		}
	}
}

func TestEqualShare_HostJoinTriggersHandoff(t *testing.T) {
	s := NewEqualShare()
	c := newCluster(4, "host-a")
	require.Positive(t, c.converge(s, 10))

	// host-b announces itself through presence without owning anything.
	c.hosts = append(c.hosts, "host-b")

	d := s.Balance(c.input("host-b"))
	require.True(t, d.IsEmpty(), "host-b must not steal live leases")

	d = s.Balance(c.input("host-a"))
	require.Empty(t, d.Acquire)
	require.Len(t, d.Release, 2)
	require.Equal(t, "p-03", d.Release[0].LeaseToken, "greatest tokens are released first")
	require.Equal(t, "p-02", d.Release[1].LeaseToken)

	require.Positive(t, c.converge(s, 10))
	require.Equal(t, map[string]int{"host-a": 2, "host-b": 2}, c.counts())
}

func TestEqualShare_HostLossReclaimsExpired(t *testing.T) {
	s := NewEqualShare()
	c := newCluster(4, "host-a", "host-b")
	require.Positive(t, c.converge(s, 10))

	// host-b dies: presence gone, its leases age past expiration.
	c.hosts = []string{"host-a"}
	for _, l := range c.leases {
		if l.Owner == "host-b" {
			l.Timestamp = simNow.Add(-simExpiration - time.Second)
		}
	}

	require.Positive(t, c.converge(s, 10))
	require.Equal(t, map[string]int{"host-a": 4}, c.counts())
}

func TestEqualShare_NoReleaseWithoutTaker(t *testing.T) {
	s := NewEqualShare()
	in := types.BalanceInput{
		HostID: "host-b",
		Leases: []types.Lease{
			{LeaseToken: "p-0", Owner: "host-b", Timestamp: simNow},
		},
		ActiveHosts:        []string{"host-a", "host-b"},
		Now:                simNow,
		ExpirationInterval: simExpiration,
	}
	in.Owned = in.Leases

	// host-b is over its zero target, host-a is under its target of one:
	// releasing lets host-a pick the lease up.
	d := s.Balance(in)
	require.Len(t, d.Release, 1)

	// host-a owns a second lease that appeared, so nobody is short.
	in.Leases = append(in.Leases, types.Lease{LeaseToken: "p-1", Owner: "host-a", Timestamp: simNow})
	d = s.Balance(in)
	require.True(t, d.IsEmpty())
}

func TestEqualShare_ZeroTargetLeavesFreeLeaseToShortHost(t *testing.T) {
	s := NewEqualShare()
	in := types.BalanceInput{
		HostID: "host-c",
		Leases: []types.Lease{
			{LeaseToken: "p-0", Owner: "host-a", Timestamp: simNow},
			{LeaseToken: "p-1", Timestamp: simNow},
			{LeaseToken: "p-2", Owner: "host-x", Timestamp: simNow.Add(-simExpiration - time.Second)},
		},
		ActiveHosts:        []string{"host-a", "host-b", "host-c", "host-d"},
		Now:                simNow,
		ExpirationInterval: simExpiration,
	}
	require.Equal(t, map[string]int{"host-a": 1, "host-b": 1, "host-c": 1, "host-d": 0},
		Targets(ActiveHosts(in), len(in.Leases)))

	// host-d owns nothing and a free and an expired lease exist, but host-b
	// and host-c are short, so host-d leaves both leases to them.
	in.HostID = "host-d"
	require.True(t, s.Balance(in).IsEmpty())

	in.HostID = "host-b"
	d := s.Balance(in)
	require.Len(t, d.Acquire, 1)
	require.Equal(t, "p-1", d.Acquire[0].LeaseToken)

	// Every host converges without the zero-target host taking anything.
	c := newCluster(3, "host-a", "host-b", "host-c", "host-d")
	require.Positive(t, c.converge(s, 10))
	require.Zero(t, c.unowned())
	require.Equal(t, map[string]int{"host-a": 1, "host-b": 1, "host-c": 1, "host-d": 0}, c.counts())
}

func TestEqualShare_CandidateOrder(t *testing.T) {
	old := simNow.Add(-2 * time.Minute)
	older := simNow.Add(-3 * time.Minute)
	in := types.BalanceInput{
		HostID: "host-a",
		Leases: []types.Lease{
			{LeaseToken: "p-exp-new", Owner: "host-x", Timestamp: old},
			{LeaseToken: "p-exp-old", Owner: "host-x", Timestamp: older},
			{LeaseToken: "p-free", Timestamp: simNow},
			{LeaseToken: "p-orphan", Owner: "host-a", Timestamp: simNow},
			{LeaseToken: "p-live", Owner: "host-y", Timestamp: simNow},
		},
		Now:                simNow,
		ExpirationInterval: simExpiration,
	}

	cands := candidates(in, ownedSet(in))
	tokens := make([]string, 0, len(cands))
	for _, l := range cands {
		tokens = append(tokens, l.LeaseToken)
	}
	require.Equal(t, []string{"p-orphan", "p-free", "p-exp-old", "p-exp-new"}, tokens)
}

func TestEqualShare_ExpiryBoundary(t *testing.T) {
	in := types.BalanceInput{
		HostID: "host-a",
		Leases: []types.Lease{
			{LeaseToken: "p-0", Owner: "host-b", Timestamp: simNow.Add(-simExpiration)},
		},
		Now:                simNow,
		ExpirationInterval: simExpiration,
	}

	// Exactly at the expiration interval the lease is still live.
	require.True(t, NewEqualShare().Balance(in).IsEmpty())
	require.Equal(t, []string{"host-a", "host-b"}, ActiveHosts(in))

	in.Now = in.Now.Add(time.Millisecond)
	d := NewEqualShare().Balance(in)
	require.Len(t, d.Acquire, 1)
	require.Equal(t, []string{"host-a"}, ActiveHosts(in))
}

func TestEqualShare_Deterministic(t *testing.T) {
	c := newCluster(9, hostNames(3)...)
	in := c.input("host-1")
	first := NewEqualShare().Balance(in)
	for range 10 {
		require.Equal(t, first, NewEqualShare().Balance(in))
	}
}
