package testutil

import (
	"strconv"
	"testing"

	"github.com/arloliu/leasefeed/types"
)

// AssertLeasesConsistent verifies that the sum of owned leases across all
// hosts equals the expected total and that no lease is owned by more than one host.
//
// Parameters:
//   - t: testing handle
//   - owned: map of hostID -> slice of owned leases
//   - expectedTotal: expected total number of unique leases across all hosts
func AssertLeasesConsistent(t testing.TB, owned map[string][]types.Lease, expectedTotal int) {
	t.Helper()

	seen := make(map[string]string, expectedTotal)
	sum := 0
	for host, leases := range owned {
		sum += len(leases)
		for _, l := range leases {
			if prev, ok := seen[l.LeaseToken]; ok {
				t.Fatalf("lease %s owned by both %s and %s", l.LeaseToken, prev, host)
			}
			seen[l.LeaseToken] = host
		}
	}

	if sum != expectedTotal {
		t.Fatalf("sum of owned leases (%d) does not equal expected total (%d)", sum, expectedTotal)
	}
	if len(seen) != expectedTotal {
		t.Fatalf("unique lease count (%d) does not equal expected total (%d)", len(seen), expectedTotal)
	}
}

// AssertOrderedDelivery verifies that every partition saw positions
// 1..expected in order, allowing redelivery of already seen positions after a
// lease moved. Positions must be decimal sequence numbers.
//
// Parameters:
//   - t: testing handle
//   - delivered: map of partition -> delivered positions in arrival order
//   - expected: highest position each partition must have reached
func AssertOrderedDelivery(t testing.TB, delivered map[string][]string, expected uint64) {
	t.Helper()

	for partition, positions := range delivered {
		var high uint64
		for _, p := range positions {
			seq, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				t.Fatalf("partition %s: position %q is not a sequence: %v", partition, p, err)
			}
			if seq > high+1 {
				t.Fatalf("partition %s: gap after %d, got %d", partition, high, seq)
			}
			high = max(high, seq)
		}
		if high != expected {
			t.Fatalf("partition %s reached %d, want %d", partition, high, expected)
		}
	}
}
