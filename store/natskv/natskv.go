// Package natskv provides a types.LeaseStore backed by a NATS JetStream
// KeyValue bucket.
//
// Each lease is one key holding a JSON document. The key's revision is the
// concurrency token, so every conditional write maps onto KV Update with an
// expected revision, and the lease timestamp is the server-side time of the
// latest revision. Presence lives in a second bucket whose TTL purges hosts
// that stopped heartbeating.
package natskv

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leasefeed/internal/kvutil"
	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/internal/natsutil"
	"github.com/arloliu/leasefeed/types"
)

const (
	// DefaultBucket is the default lease bucket name.
	DefaultBucket = "leasefeed-leases"

	// DefaultPresenceTTL is the default maximum age of a presence entry.
	DefaultPresenceTTL = 30 * time.Second
)

// Store is a LeaseStore and PresenceRegistry on NATS KV.
type Store struct {
	leases   jetstream.KeyValue
	presence jetstream.KeyValue
	logger   types.Logger
	now      func() time.Time
}

// Compile-time assertions that Store implements LeaseStore and PresenceRegistry.
var (
	_ types.LeaseStore       = (*Store)(nil)
	_ types.PresenceRegistry = (*Store)(nil)
)

type options struct {
	bucket         string
	presenceBucket string
	presenceTTL    time.Duration
	replicas       int
	storage        jetstream.StorageType
	logger         types.Logger
}

// Option configures a Store.
type Option func(*options)

// WithBucket sets the lease bucket name. Hosts sharing a feed must use the same bucket.
func WithBucket(name string) Option {
	return func(o *options) {
		o.bucket = name
	}
}

// WithPresenceBucket sets the presence bucket name (default: lease bucket + "-presence").
func WithPresenceBucket(name string) Option {
	return func(o *options) {
		o.presenceBucket = name
	}
}

// WithPresenceTTL sets the bucket-level TTL of presence entries.
//
// It bounds how long a crashed host lingers in the bucket; ActiveHosts
// additionally honors the per-heartbeat TTL, which should not exceed this value.
func WithPresenceTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.presenceTTL = ttl
	}
}

// WithReplicas sets the replica count of both buckets.
func WithReplicas(n int) Option {
	return func(o *options) {
		o.replicas = n
	}
}

// WithMemoryStorage keeps both buckets in memory instead of on disk.
func WithMemoryStorage() Option {
	return func(o *options) {
		o.storage = jetstream.MemoryStorage
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New opens the lease and presence buckets, creating them if needed.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - js: JetStream context
//   - opts: Bucket names, TTL, replicas, storage and logger
//
// Returns:
//   - *Store: Ready store
//   - error: Bucket creation error
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	store, err := natskv.New(ctx, js, natskv.WithBucket("orders-leases"))
func New(ctx context.Context, js jetstream.JetStream, opts ...Option) (*Store, error) {
	o := options{
		bucket:      DefaultBucket,
		presenceTTL: DefaultPresenceTTL,
		replicas:    1,
		storage:     jetstream.FileStorage,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.presenceBucket == "" {
		o.presenceBucket = o.bucket + "-presence"
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}

	leases, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      o.bucket,
		Description: "leasefeed partition leases",
		History:     1,
		Storage:     o.storage,
		Replicas:    o.replicas,
	}, 3)
	if err != nil {
		return nil, err
	}

	presence, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      o.presenceBucket,
		Description: "leasefeed host presence",
		History:     1,
		TTL:         o.presenceTTL,
		Storage:     o.storage,
		Replicas:    o.replicas,
	}, 3)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("natskv store ready", "bucket", o.bucket, "presence_bucket", o.presenceBucket)

	return &Store{
		leases:   leases,
		presence: presence,
		logger:   o.logger,
		now:      time.Now,
	}, nil
}

// record is the stored JSON document of a lease.
type record struct {
	LeaseToken        string            `json:"leaseToken"`
	Owner             string            `json:"owner,omitempty"`
	ContinuationToken string            `json:"continuationToken,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
}

func recordOf(l types.Lease) record {
	return record{
		LeaseToken:        l.LeaseToken,
		Owner:             l.Owner,
		ContinuationToken: l.ContinuationToken,
		Properties:        maps.Clone(l.Properties),
	}
}

func (r record) lease(revision uint64, ts time.Time) types.Lease {
	return types.Lease{
		LeaseToken:        r.LeaseToken,
		Owner:             r.Owner,
		ContinuationToken: r.ContinuationToken,
		Properties:        maps.Clone(r.Properties),
		Timestamp:         ts,
		ConcurrencyToken:  strconv.FormatUint(revision, 10),
	}
}

func decodeEntry(entry jetstream.KeyValueEntry) (types.Lease, error) {
	var r record
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return types.Lease{}, fmt.Errorf("decode lease %s: %w", entry.Key(), err)
	}

	return r.lease(entry.Revision(), entry.Created()), nil
}

// ListLeases returns all leases sorted by lease token.
func (s *Store) ListLeases(ctx context.Context) ([]types.Lease, error) {
	keys, err := listKeys(ctx, s.leases)
	if err != nil {
		return nil, s.wrap("list leases", err)
	}

	out := make([]types.Lease, 0, len(keys))
	for _, key := range keys {
		entry, err := s.leases.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			// Deleted between listing and reading.
			continue
		}
		if err != nil {
			return nil, s.wrap("get lease", err)
		}

		l, err := decodeEntry(entry)
		if err != nil {
			s.logger.Warn("skipping malformed lease entry", "key", key, "error", err)
			continue
		}
		out = append(out, l)
	}

	slices.SortFunc(out, func(a, b types.Lease) int {
		return cmp.Compare(a.LeaseToken, b.LeaseToken)
	})

	return out, nil
}

// CreateIfNotExists creates an unowned lease unless one already exists.
func (s *Store) CreateIfNotExists(ctx context.Context, leaseToken string) (types.Lease, bool, error) {
	r := record{LeaseToken: leaseToken}
	data, err := json.Marshal(r)
	if err != nil {
		return types.Lease{}, false, err
	}

	key := kvutil.EncodeKey(leaseToken)
	rev, err := s.leases.Create(ctx, key, data)
	if err == nil {
		return r.lease(rev, s.now()), true, nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) && !natsutil.IsWrongLastSequence(err) {
		return types.Lease{}, false, s.wrap("create lease", err)
	}

	entry, err := s.leases.Get(ctx, key)
	if err != nil {
		return types.Lease{}, false, s.wrap("get lease", err)
	}
	existing, err := decodeEntry(entry)
	if err != nil {
		return types.Lease{}, false, err
	}

	return existing, false, nil
}

// Acquire sets the owner, conditioned on the concurrency token.
func (s *Store) Acquire(ctx context.Context, lease types.Lease, owner string) (types.Lease, error) {
	return s.update(ctx, lease, func(r *record) {
		r.Owner = owner
	})
}

// Renew refreshes the timestamp by writing a new revision.
func (s *Store) Renew(ctx context.Context, lease types.Lease) (types.Lease, error) {
	return s.update(ctx, lease, func(*record) {})
}

// Checkpoint stores the continuation token, conditioned on the concurrency token.
func (s *Store) Checkpoint(ctx context.Context, lease types.Lease, continuationToken string) (types.Lease, error) {
	return s.update(ctx, lease, func(r *record) {
		r.ContinuationToken = continuationToken
	})
}

// UpdateProperties replaces the properties, conditioned on the concurrency token.
func (s *Store) UpdateProperties(ctx context.Context, lease types.Lease, properties map[string]string) (types.Lease, error) {
	return s.update(ctx, lease, func(r *record) {
		r.Properties = maps.Clone(properties)
	})
}

// Release clears the owner, conditioned on the concurrency token.
func (s *Store) Release(ctx context.Context, lease types.Lease) (types.Lease, error) {
	return s.update(ctx, lease, func(r *record) {
		r.Owner = ""
	})
}

// Delete removes the lease, conditioned on the concurrency token.
func (s *Store) Delete(ctx context.Context, lease types.Lease) error {
	rev, err := parseRevision(lease)
	if err != nil {
		return err
	}

	key := kvutil.EncodeKey(lease.LeaseToken)
	err = s.leases.Delete(ctx, key, jetstream.LastRevision(rev))
	if err == nil {
		return nil
	}
	if natsutil.IsWrongLastSequence(err) {
		return s.conflict(ctx, lease)
	}

	return s.wrap("delete lease", err)
}

// Heartbeat marks hostID alive for ttl.
func (s *Store) Heartbeat(ctx context.Context, hostID string, ttl time.Duration) error {
	if _, err := s.presence.Put(ctx, kvutil.EncodeKey(hostID), []byte(ttl.String())); err != nil {
		return s.wrap("heartbeat", err)
	}

	return nil
}

// ActiveHosts returns hosts whose latest heartbeat is younger than its TTL, sorted.
func (s *Store) ActiveHosts(ctx context.Context) ([]string, error) {
	keys, err := listKeys(ctx, s.presence)
	if err != nil {
		return nil, s.wrap("list presence", err)
	}

	var hosts []string
	for _, key := range keys {
		entry, err := s.presence.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, s.wrap("get presence", err)
		}

		ttl, err := time.ParseDuration(string(entry.Value()))
		if err != nil || entry.Created().Add(ttl).Before(s.now()) {
			continue
		}

		hostID, err := kvutil.DecodeKey(key)
		if err != nil {
			continue
		}
		hosts = append(hosts, hostID)
	}
	slices.Sort(hosts)

	return hosts, nil
}

// Deregister removes hostID from presence.
func (s *Store) Deregister(ctx context.Context, hostID string) error {
	err := s.presence.Delete(ctx, kvutil.EncodeKey(hostID))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return s.wrap("deregister", err)
	}

	return nil
}

func (s *Store) update(ctx context.Context, lease types.Lease, mutate func(*record)) (types.Lease, error) {
	rev, err := parseRevision(lease)
	if err != nil {
		return types.Lease{}, err
	}

	r := recordOf(lease)
	mutate(&r)
	data, err := json.Marshal(r)
	if err != nil {
		return types.Lease{}, err
	}

	next, err := s.leases.Update(ctx, kvutil.EncodeKey(lease.LeaseToken), data, rev)
	if err == nil {
		return r.lease(next, s.now()), nil
	}
	if natsutil.IsWrongLastSequence(err) {
		return types.Lease{}, s.conflict(ctx, lease)
	}

	return types.Lease{}, s.wrap("update lease", err)
}

// conflict tells a deleted lease apart from a newer revision.
func (s *Store) conflict(ctx context.Context, lease types.Lease) error {
	entry, err := s.leases.Get(ctx, kvutil.EncodeKey(lease.LeaseToken))
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return types.ErrLeaseNotFound
	case err != nil:
		return types.NewConflictError(lease, "")
	default:
		return types.NewConflictError(lease, strconv.FormatUint(entry.Revision(), 10))
	}
}

// wrap maps connectivity failures to ErrStoreUnavailable.
func (s *Store) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if natsutil.IsConnectivityError(err) {
		return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func parseRevision(lease types.Lease) (uint64, error) {
	rev, err := strconv.ParseUint(lease.ConcurrencyToken, 10, 64)
	if err != nil {
		return 0, types.NewConflictError(lease, "")
	}

	return rev, nil
}

func listKeys(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	lister, err := kv.ListKeys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	return keys, nil
}
