package source

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/arloliu/leasefeed/types"
)

// Static implements a partition source with a fixed list of partition tokens.
type Static struct {
	mu         sync.RWMutex
	partitions []string
}

var _ types.PartitionSource = (*Static)(nil)

// NewStatic creates a new static partition source.
//
// Useful for tests and for deployments where partitions are known at startup.
//
// Parameters:
//   - partitions: Partition tokens
//
// Returns:
//   - *Static: Initialized static source
//
// Example:
//
//	src := source.NewStatic([]string{"p-0", "p-1", "p-2", "p-3"})
//	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed, obs,
//	    leasefeed.WithPartitionSource(src))
//	if err != nil { /* handle */ }
func NewStatic(partitions []string) *Static {
	return &Static{
		partitions: slices.Clone(partitions),
	}
}

// NewRange creates a static source with tokens prefix0 .. prefix{n-1}.
//
// Example:
//
//	src := source.NewRange("p-", 8) // p-0 .. p-7
func NewRange(prefix string, n int) *Static {
	partitions := make([]string, n)
	for i := range n {
		partitions[i] = prefix + strconv.Itoa(i)
	}

	return &Static{partitions: partitions}
}

// ListPartitions returns the current list of partition tokens.
//
// Returns:
//   - []string: Copy of the partition tokens
//   - error: Always nil (never fails)
func (s *Static) ListPartitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.partitions), nil
}

// Update replaces the partition list.
//
// This lets the static source simulate partitions appearing and vanishing,
// which is useful for testing partition sync.
//
// Parameters:
//   - partitions: New list of partition tokens
//
// Example:
//
//	src := source.NewStatic(initial)
//	// Later: split a partition
//	src.Update(append(initial, "p-4"))
func (s *Static) Update(partitions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partitions = slices.Clone(partitions)
}
