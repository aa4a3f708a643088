// Package redisstore provides a types.LeaseStore backed by Redis.
//
// Each lease is a hash; a set indexes all lease tokens. Conditional writes
// run as Lua scripts that compare the stored etag with the caller's
// concurrency token and stamp the lease with the Redis server time, so all
// hosts judge expiration against one clock. Etags come from a single
// counter and are never reused, even across delete and re-create.
//
// Presence is a sorted set scored by expiry time.
package redisstore

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

	"github.com/redis/go-redis/v9"

	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/types"
)

// DefaultPrefix is the default key prefix.
const DefaultPrefix = "leasefeed"

// Hash fields of a lease.
const (
	fieldToken        = "token"
	fieldOwner        = "owner"
	fieldContinuation = "continuation"
	fieldProperties   = "properties"
	fieldTimestamp    = "ts"
	fieldETag         = "etag"
)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
local etag = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'etag', etag, 'ts', now)
redis.call('SADD', KEYS[2], ARGV[1])
return {tostring(etag), now}
`)

// updateScript applies field/value pairs when the etag matches.
// Reply: {1, etag, ts} on success, {0, current} on conflict, {-1} when missing.
var updateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'etag')
if not cur then
  return {-1}
end
if cur ~= ARGV[1] then
  return {0, cur}
end
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
local etag = redis.call('INCR', KEYS[2])
local args = {'etag', etag, 'ts', now}
for i = 2, #ARGV, 2 do
  table.insert(args, ARGV[i])
  table.insert(args, ARGV[i + 1])
end
redis.call('HSET', KEYS[1], unpack(args))
return {1, tostring(etag), now}
`)

var deleteScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'etag')
if not cur then
  return {-1}
end
if cur ~= ARGV[1] then
  return {0, cur}
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return {1}
`)

var heartbeatScript = redis.NewScript(`
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
redis.call('ZADD', KEYS[1], now + tonumber(ARGV[2]), ARGV[1])
return now
`)

var activeHostsScript = redis.NewScript(`
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
return redis.call('ZRANGE', KEYS[1], 0, -1)
`)

// Store is a LeaseStore and PresenceRegistry on Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	logger types.Logger
}

// Compile-time assertions that Store implements LeaseStore and PresenceRegistry.
var (
	_ types.LeaseStore       = (*Store)(nil)
	_ types.PresenceRegistry = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Hosts sharing a feed must use the same prefix.
//
// The prefix is wrapped in a hash tag so all keys of one store land in the
// same Redis Cluster slot, which multi-key scripts require.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store on rdb.
//
// Example:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"127.0.0.1:6379"}})
//	store := redisstore.New(rdb, redisstore.WithPrefix("orders"))
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: DefaultPrefix,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) key(parts ...string) string {
	k := "{" + s.prefix + "}"
	for _, p := range parts {
		k += ":" + p
	}

	return k
}

func (s *Store) leaseKey(token string) string { return s.key("lease", token) }
func (s *Store) indexKey() string             { return s.key("leases") }
func (s *Store) etagKey() string              { return s.key("etag") }
func (s *Store) hostsKey() string             { return s.key("hosts") }

// ListLeases returns all leases sorted by lease token.
func (s *Store) ListLeases(ctx context.Context) ([]types.Lease, error) {
	tokens, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, s.wrap("list leases", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, token := range tokens {
			cmds[i] = pipe.HGetAll(ctx, s.leaseKey(token))
		}

		return nil
	})
	if err != nil {
		return nil, s.wrap("read leases", err)
	}

	out := make([]types.Lease, 0, len(tokens))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between the two reads.
			continue
		}

		l, err := decode(fields)
		if err != nil {
			s.logger.Warn("skipping malformed lease", "lease", tokens[i], "error", err)
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
	keys := []string{s.leaseKey(leaseToken), s.indexKey(), s.etagKey()}
	res, err := createScript.Run(ctx, s.rdb, keys, leaseToken).Result()
	if err != nil {
		return types.Lease{}, false, s.wrap("create lease", err)
	}

	if reply, ok := res.([]any); ok && len(reply) == 2 {
		etag, _ := reply[0].(string)
		ts, _ := reply[1].(int64)

		return types.Lease{
			LeaseToken:       leaseToken,
			ConcurrencyToken: etag,
			Timestamp:        time.UnixMilli(ts),
		}, true, nil
	}

	fields, err := s.rdb.HGetAll(ctx, s.leaseKey(leaseToken)).Result()
	if err != nil {
		return types.Lease{}, false, s.wrap("get lease", err)
	}
	if len(fields) == 0 {
		return types.Lease{}, false, types.ErrLeaseNotFound
	}
	existing, err := decode(fields)
	if err != nil {
		return types.Lease{}, false, err
	}

	return existing, false, nil
}

// Acquire sets the owner, conditioned on the concurrency token.
func (s *Store) Acquire(ctx context.Context, lease types.Lease, owner string) (types.Lease, error) {
	next := lease.Clone()
	next.Owner = owner

	return s.update(ctx, lease, next, fieldOwner, owner)
}

// Renew refreshes the server-side timestamp.
func (s *Store) Renew(ctx context.Context, lease types.Lease) (types.Lease, error) {
	return s.update(ctx, lease, lease.Clone())
}

// Checkpoint stores the continuation token, conditioned on the concurrency token.
func (s *Store) Checkpoint(ctx context.Context, lease types.Lease, continuationToken string) (types.Lease, error) {
	next := lease.Clone()
	next.ContinuationToken = continuationToken

	return s.update(ctx, lease, next, fieldContinuation, continuationToken)
}

// UpdateProperties replaces the properties, conditioned on the concurrency token.
func (s *Store) UpdateProperties(ctx context.Context, lease types.Lease, properties map[string]string) (types.Lease, error) {
	data, err := json.Marshal(properties)
	if err != nil {
		return types.Lease{}, err
	}

	next := lease.Clone()
	next.Properties = maps.Clone(properties)

	return s.update(ctx, lease, next, fieldProperties, string(data))
}

// Release clears the owner, conditioned on the concurrency token.
func (s *Store) Release(ctx context.Context, lease types.Lease) (types.Lease, error) {
	next := lease.Clone()
	next.Owner = ""

	return s.update(ctx, lease, next, fieldOwner, "")
}

// Delete removes the lease, conditioned on the concurrency token.
func (s *Store) Delete(ctx context.Context, lease types.Lease) error {
	keys := []string{s.leaseKey(lease.LeaseToken), s.indexKey()}
	res, err := deleteScript.Run(ctx, s.rdb, keys, lease.ConcurrencyToken, lease.LeaseToken).Slice()
	if err != nil {
		return s.wrap("delete lease", err)
	}

	return outcome(lease, res)
}

// Heartbeat marks hostID alive for ttl, measured on the Redis clock.
func (s *Store) Heartbeat(ctx context.Context, hostID string, ttl time.Duration) error {
	err := heartbeatScript.Run(ctx, s.rdb, []string{s.hostsKey()}, hostID, ttl.Milliseconds()).Err()
	if err != nil {
		return s.wrap("heartbeat", err)
	}

	return nil
}

// ActiveHosts prunes expired hosts and returns the rest, sorted.
func (s *Store) ActiveHosts(ctx context.Context) ([]string, error) {
	hosts, err := activeHostsScript.Run(ctx, s.rdb, []string{s.hostsKey()}).StringSlice()
	if err != nil {
		return nil, s.wrap("active hosts", err)
	}
	slices.Sort(hosts)

	return hosts, nil
}

// Deregister removes hostID from presence.
func (s *Store) Deregister(ctx context.Context, hostID string) error {
	if err := s.rdb.ZRem(ctx, s.hostsKey(), hostID).Err(); err != nil {
		return s.wrap("deregister", err)
	}

	return nil
}

// update runs the CAS script; next is the lease as it will be stored.
func (s *Store) update(ctx context.Context, lease, next types.Lease, fieldValues ...string) (types.Lease, error) {
	keys := []string{s.leaseKey(lease.LeaseToken), s.etagKey()}
	args := make([]any, 0, len(fieldValues)+1)
	args = append(args, lease.ConcurrencyToken)
	for _, v := range fieldValues {
		args = append(args, v)
	}

	res, err := updateScript.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return types.Lease{}, s.wrap("update lease", err)
	}
	if err := outcome(lease, res); err != nil {
		return types.Lease{}, err
	}
	if len(res) < 3 {
		return types.Lease{}, fmt.Errorf("update lease %s: unexpected reply %v", lease.LeaseToken, res)
	}

	next.ConcurrencyToken, _ = res[1].(string)
	ts, _ := res[2].(int64)
	next.Timestamp = time.UnixMilli(ts)

	return next, nil
}

// outcome maps a script status reply to the store error contract.
func outcome(lease types.Lease, res []any) error {
	if len(res) == 0 {
		return fmt.Errorf("lease %s: empty script reply", lease.LeaseToken)
	}

	status, _ := res[0].(int64)
	switch status {
	case 1:
		return nil
	case -1:
		return types.ErrLeaseNotFound
	default:
		var actual string
		if len(res) > 1 {
			actual, _ = res[1].(string)
		}

		return types.NewConflictError(lease, actual)
	}
}

func decode(fields map[string]string) (types.Lease, error) {
	ts, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil {
		return types.Lease{}, fmt.Errorf("bad timestamp %q: %w", fields[fieldTimestamp], err)
	}

	l := types.Lease{
		LeaseToken:        fields[fieldToken],
		Owner:             fields[fieldOwner],
		ContinuationToken: fields[fieldContinuation],
		Timestamp:         time.UnixMilli(ts),
		ConcurrencyToken:  fields[fieldETag],
	}
	if raw := fields[fieldProperties]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &l.Properties); err != nil {
			return types.Lease{}, fmt.Errorf("bad properties: %w", err)
		}
	}

	return l, nil
}

// wrap maps everything except server-side error replies to ErrStoreUnavailable.
func (s *Store) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, err)
}
