// Package memory provides an in-memory, partitioned change feed.
//
// Each partition is an append-only log. The continuation token is the decimal
// number of changes consumed, so "" and "0" both mean the start of the
// partition.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/leasefeed/types"
)

// Feed is an in-memory types.ChangeFeed and types.PartitionSource.
type Feed struct {
	mu         sync.RWMutex
	partitions map[string][]types.Change
	now        func() time.Time

	unavailable atomic.Bool
}

var (
	_ types.ChangeFeed      = (*Feed)(nil)
	_ types.PartitionSource = (*Feed)(nil)
)

// Option configures a Feed.
type Option func(*Feed)

// WithClock sets the time source used to stamp appended changes.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		f.now = now
	}
}

// New creates an empty feed.
//
// Example:
//
//	feed := memory.New()
//	feed.Append("p-0", "order-1", []byte(`{"total":42}`))
func New(opts ...Option) *Feed {
	f := &Feed{
		partitions: make(map[string][]types.Change),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// AddPartition registers an empty partition. It is a no-op when the partition exists.
func (f *Feed) AddPartition(partition string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.partitions[partition]; !ok {
		f.partitions[partition] = nil
	}
}

// RemovePartition drops a partition and its changes.
func (f *Feed) RemovePartition(partition string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.partitions, partition)
}

// Append adds a change to partition, creating the partition if needed.
//
// Parameters:
//   - partition: Partition token
//   - key: Entity key, may be empty
//   - data: Change payload
//
// Returns:
//   - string: Position of the appended change
func (f *Feed) Append(partition, key string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	log := f.partitions[partition]
	pos := strconv.Itoa(len(log) + 1)
	f.partitions[partition] = append(log, types.Change{
		Position:  pos,
		Key:       key,
		Data:      slices.Clone(data),
		Timestamp: f.now(),
	})

	return pos
}

// Len returns the number of changes in partition.
func (f *Feed) Len(partition string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.partitions[partition])
}

// SetUnavailable makes every read fail with ErrFeedUnavailable until reset.
func (f *Feed) SetUnavailable(unavailable bool) {
	f.unavailable.Store(unavailable)
}

// ReadChanges implements types.ChangeFeed.
//
// Reading an unknown partition yields an empty batch, the same as a
// partition that has no changes yet.
func (f *Feed) ReadChanges(ctx context.Context, partition, continuationToken string, maxItems int) (types.Batch, error) {
	if err := ctx.Err(); err != nil {
		return types.Batch{}, err
	}
	if f.unavailable.Load() {
		return types.Batch{}, fmt.Errorf("read %s: %w", partition, types.ErrFeedUnavailable)
	}
	if maxItems <= 0 {
		return types.Batch{}, fmt.Errorf("maxItems must be positive, got %d", maxItems)
	}

	offset, err := parseToken(continuationToken)
	if err != nil {
		return types.Batch{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	log := f.partitions[partition]
	if offset > len(log) {
		return types.Batch{}, fmt.Errorf("%w: offset %d beyond end of %s (%d)",
			types.ErrInvalidContinuationToken, offset, partition, len(log))
	}

	end := min(offset+maxItems, len(log))
	if end == offset {
		return types.Batch{ContinuationToken: continuationToken}, nil
	}

	changes := make([]types.Change, end-offset)
	copy(changes, log[offset:end])

	return types.Batch{
		Changes:           changes,
		ContinuationToken: strconv.Itoa(end),
	}, nil
}

// ListPartitions implements types.PartitionSource. Tokens are sorted.
func (f *Feed) ListPartitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.unavailable.Load() {
		return nil, fmt.Errorf("list partitions: %w", types.ErrFeedUnavailable)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.partitions))
	for p := range f.partitions {
		out = append(out, p)
	}
	slices.Sort(out)

	return out, nil
}

func parseToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidContinuationToken, token)
	}

	return n, nil
}
