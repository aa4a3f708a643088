// Package hash provides a consistent hash ring mapping lease tokens to hosts.
package hash

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/zeebo/xxh3"
)

// Ring implements a consistent hash ring with virtual nodes.
//
// Every host computing a ring from the same host set and seed gets the same
// placement, which is what lets hosts agree on ownership without talking to
// each other.
type Ring struct {
	// nodes contains all virtual nodes on the ring, sorted by hash
	nodes []virtualNode

	// hosts holds the unique, sorted list of hosts present on the ring
	hosts []string

	seed uint64
}

type virtualNode struct {
	hash   uint64
	hostID string
}

// NewRing creates a new consistent hash ring.
//
// Host order does not matter: hosts are deduplicated and sorted so that any
// permutation of the same set yields an identical ring.
//
// Parameters:
//   - hosts: Host IDs to place on the ring
//   - virtualNodesPerHost: Number of virtual nodes per host (higher = better distribution)
//   - seed: Hash seed; every host must use the same value
//
// Returns:
//   - *Ring: Initialized hash ring
//
// Example:
//
//	ring := hash.NewRing([]string{"host-a", "host-b"}, 150, 0)
//	owner := ring.GetNode(lease.LeaseToken)
func NewRing(hosts []string, virtualNodesPerHost int, seed uint64) *Ring {
	uniq := slices.Clone(hosts)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)

	ring := &Ring{
		nodes: make([]virtualNode, 0, len(uniq)*virtualNodesPerHost),
		hosts: uniq,
		seed:  seed,
	}

	for _, hostID := range ring.hosts {
		ring.addHost(hostID, virtualNodesPerHost)
	}

	slices.SortFunc(ring.nodes, func(a, b virtualNode) int {
		if c := cmp.Compare(a.hash, b.hash); c != 0 {
			return c
		}

		// Equal hashes are astronomically rare but must still sort deterministically.
		return cmp.Compare(a.hostID, b.hostID)
	})

	return ring
}

// GetNode finds the host responsible for a key.
//
// Uses binary search to find the first virtual node whose hash is >= the key hash,
// wrapping around to the first node past the end of the ring.
//
// Parameters:
//   - key: Lease token
//
// Returns:
//   - string: Host ID, or "" when the ring is empty
func (r *Ring) GetNode(key string) string {
	if len(r.nodes) == 0 {
		return ""
	}

	target := r.hash(key)
	idx, _ := slices.BinarySearchFunc(r.nodes, target, func(node virtualNode, t uint64) int {
		return cmp.Compare(node.hash, t)
	})
	if idx >= len(r.nodes) {
		idx = 0
	}

	return r.nodes[idx].hostID
}

// Hosts returns the sorted list of unique hosts on the ring.
func (r *Ring) Hosts() []string {
	return slices.Clone(r.hosts)
}

// Size returns the total number of virtual nodes on the ring.
func (r *Ring) Size() int {
	return len(r.nodes)
}

func (r *Ring) addHost(hostID string, virtualNodes int) {
	base := r.hash(hostID)
	for i := range virtualNodes {
		// Fold the vnode index into the host hash instead of hashing a
		// concatenated string.
		var ib [8]byte
		binary.LittleEndian.PutUint64(ib[:], uint64(i)) //nolint:gosec
		r.nodes = append(r.nodes, virtualNode{
			hash:   xxh3.HashSeed(ib[:], base),
			hostID: hostID,
		})
	}
}

func (r *Ring) hash(key string) uint64 {
	if r.seed != 0 {
		return xxh3.HashStringSeed(key, r.seed)
	}

	return xxh3.HashString(key)
}
