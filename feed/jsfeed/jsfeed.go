// Package jsfeed reads a partitioned change feed from a NATS JetStream stream.
//
// Each partition maps to one subject of the stream (subject = prefix + token).
// Changes are the messages on that subject in stream order, and the
// continuation token is the decimal stream sequence of the last message read.
// Reads use direct per-subject lookups, so no consumer state lives on the
// server and any host can resume from any stored token.
package jsfeed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/internal/natsutil"
	"github.com/arloliu/leasefeed/types"
)

// KeyHeader is the message header copied into Change.Key when present.
const KeyHeader = "Leasefeed-Key"

// Feed is a types.ChangeFeed and types.PartitionSource over a JetStream stream.
type Feed struct {
	stream jetstream.Stream
	prefix string
	logger types.Logger
}

var (
	_ types.ChangeFeed      = (*Feed)(nil)
	_ types.PartitionSource = (*Feed)(nil)
)

// Option configures a Feed.
type Option func(*Feed)

// WithSubjectPrefix sets the subject prefix that precedes every partition
// token, for example "orders." so partition "eu" reads subject "orders.eu".
func WithSubjectPrefix(prefix string) Option {
	return func(f *Feed) {
		f.prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(f *Feed) {
		f.logger = logger
	}
}

// New creates a feed reading from stream.
//
// Parameters:
//   - stream: JetStream stream holding the partition subjects
//   - opts: Optional configuration (WithSubjectPrefix, WithLogger)
//
// Returns:
//   - *Feed: Initialized feed
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	stream, _ := js.Stream(ctx, "ORDERS")
//	feed := jsfeed.New(stream, jsfeed.WithSubjectPrefix("orders."))
func New(stream jetstream.Stream, opts ...Option) *Feed {
	f := &Feed{
		stream: stream,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// ReadChanges implements types.ChangeFeed.
//
// Every message costs one direct-get round trip, so maxItems bounds both the
// batch size and the read latency.
func (f *Feed) ReadChanges(ctx context.Context, partition, continuationToken string, maxItems int) (types.Batch, error) {
	if maxItems <= 0 {
		return types.Batch{}, fmt.Errorf("maxItems must be positive, got %d", maxItems)
	}

	last, err := parseToken(continuationToken)
	if err != nil {
		return types.Batch{}, err
	}

	subject := f.prefix + partition
	var changes []types.Change
	for len(changes) < maxItems {
		msg, err := f.stream.GetMsg(ctx, last+1, jetstream.WithGetMsgSubject(subject))
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.Batch{}, ctxErr
			}
			if len(changes) > 0 {
				// Hand back what was read; the next call resumes after it.
				f.logger.Debug("partial feed read", "partition", partition, "changes", len(changes), "error", err)
				break
			}
			if natsutil.IsConnectivityError(err) {
				return types.Batch{}, fmt.Errorf("read %s: %w: %w", subject, types.ErrFeedUnavailable, err)
			}

			return types.Batch{}, fmt.Errorf("read %s at %d: %w: %w", subject, last+1, types.ErrFeedUnavailable, err)
		}

		last = msg.Sequence
		changes = append(changes, types.Change{
			Position:  strconv.FormatUint(msg.Sequence, 10),
			Key:       msg.Header.Get(KeyHeader),
			Data:      msg.Data,
			Timestamp: msg.Time,
		})
	}

	if len(changes) == 0 {
		return types.Batch{ContinuationToken: continuationToken}, nil
	}

	return types.Batch{
		Changes:           changes,
		ContinuationToken: strconv.FormatUint(last, 10),
	}, nil
}

// ListPartitions implements types.PartitionSource.
//
// Partitions are the stream subjects under the prefix that currently hold at
// least one message. Tokens are sorted.
func (f *Feed) ListPartitions(ctx context.Context) ([]string, error) {
	filter := ">"
	if f.prefix != "" {
		filter = f.prefix + ">"
	}

	info, err := f.stream.Info(ctx, jetstream.WithSubjectFilter(filter))
	if err != nil {
		if natsutil.IsConnectivityError(err) {
			return nil, fmt.Errorf("stream info: %w: %w", types.ErrFeedUnavailable, err)
		}

		return nil, fmt.Errorf("stream info: %w", err)
	}

	out := make([]string, 0, len(info.State.Subjects))
	for subject := range info.State.Subjects {
		token, ok := strings.CutPrefix(subject, f.prefix)
		if !ok || token == "" {
			continue
		}
		out = append(out, token)
	}
	slices.Sort(out)

	return out, nil
}

func parseToken(token string) (uint64, error) {
	if token == "" {
		return 0, nil
	}

	seq, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidContinuationToken, token)
	}

	return seq, nil
}
