package testutil

import (
	"testing"

	"github.com/arloliu/leasefeed/types"
)

func TestAssertLeasesConsistent_Passes(t *testing.T) {
	owned := map[string][]types.Lease{
		"h1": {
			{LeaseToken: "a"},
			{LeaseToken: "b"},
		},
		"h2": {
			{LeaseToken: "c"},
			{LeaseToken: "d"},
		},
	}
	AssertLeasesConsistent(t, owned, 4)
}

func TestAssertOrderedDelivery_AllowsRedelivery(t *testing.T) {
	delivered := map[string][]string{
		"p-0": {"1", "2", "3", "2", "3", "4"},
		"p-1": {"1", "2", "3", "4"},
	}
	AssertOrderedDelivery(t, delivered, 4)
}
