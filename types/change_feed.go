package types

import (
	"context"
	"time"
)

// Change is a single item read from a partition of the change feed.
type Change struct {
	// Position is the feed-specific position of this change.
	Position string

	// Key identifies the changed entity, when the feed provides one.
	Key string

	// Data is the change payload.
	Data []byte

	// Timestamp is the time the feed recorded the change.
	Timestamp time.Time
}

// Batch is the result of one feed read.
type Batch struct {
	// Changes holds the changes in feed order. Empty means caught up.
	Changes []Change

	// ContinuationToken is the cursor positioned after the last change of the
	// batch. For an empty batch it equals the token passed to ReadChanges.
	ContinuationToken string
}

// IsEmpty reports whether the batch carries no changes.
func (b Batch) IsEmpty() bool {
	return len(b.Changes) == 0
}

// ChangeFeed reads ordered changes from one partition of a partitioned stream.
type ChangeFeed interface {
	// ReadChanges reads up to maxItems changes positioned after continuationToken.
	//
	// An empty continuationToken means the beginning of the partition.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - partitionToken: Partition to read from
	//   - continuationToken: Cursor returned by a previous read
	//   - maxItems: Maximum number of changes to return (> 0)
	//
	// Returns:
	//   - Batch: Changes and the next continuation token
	//   - error: ErrFeedUnavailable (wrapped) for transient failures,
	//     ErrInvalidContinuationToken for malformed cursors
	ReadChanges(ctx context.Context, partitionToken, continuationToken string, maxItems int) (Batch, error)
}

// PartitionSource discovers the partitions of the change feed.
//
// Implementations can query external systems (databases, stream metadata,
// configuration files). ListPartitions is called periodically by the
// controller; a lease is created for every new partition and deleted for every
// partition that disappears.
type PartitionSource interface {
	// ListPartitions returns the current partition tokens.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//
	// Returns:
	//   - []string: Partition tokens
	//   - error: Discovery error
	ListPartitions(ctx context.Context) ([]string, error)
}
