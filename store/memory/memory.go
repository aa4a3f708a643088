// Package memory provides an in-process types.LeaseStore.
//
// The store keeps all leases in one map guarded by a mutex and is meant for
// tests, examples and single-process deployments. It honors the same
// compare-and-swap contract as the networked stores: every write is
// conditioned on the caller's concurrency token.
package memory

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/leasefeed/types"
)

// Store is an in-memory LeaseStore and PresenceRegistry.
type Store struct {
	mu      sync.Mutex
	leases  map[string]types.Lease
	version uint64

	hosts *xsync.Map[string, time.Time]

	now         func() time.Time
	unavailable bool
}

// Compile-time assertions that Store implements LeaseStore and PresenceRegistry.
var (
	_ types.LeaseStore       = (*Store)(nil)
	_ types.PresenceRegistry = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp lease timestamps and expire presence.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
//
// Example:
//
//	store := memory.New()
//	lease, created, err := store.CreateIfNotExists(ctx, "p-0")
func New(opts ...Option) *Store {
	s := &Store{
		leases: make(map[string]types.Lease),
		hosts:  xsync.NewMap[string, time.Time](),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetUnavailable makes every subsequent call fail with ErrStoreUnavailable
// until it is called again with false. Used to exercise outage handling.
func (s *Store) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unavailable = unavailable
}

// Get returns the stored lease, for inspection in tests and tools.
func (s *Store) Get(leaseToken string) (types.Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[leaseToken]

	return l.Clone(), ok
}

// ListLeases returns all leases sorted by lease token.
func (s *Store) ListLeases(ctx context.Context) ([]types.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	out := make([]types.Lease, 0, len(s.leases))
	for _, token := range slices.Sorted(maps.Keys(s.leases)) {
		out = append(out, s.leases[token].Clone())
	}

	return out, nil
}

// CreateIfNotExists creates an unowned lease unless one already exists.
func (s *Store) CreateIfNotExists(ctx context.Context, leaseToken string) (types.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return types.Lease{}, false, err
	}

	if existing, ok := s.leases[leaseToken]; ok {
		return existing.Clone(), false, nil
	}

	lease := types.Lease{
		LeaseToken:       leaseToken,
		Timestamp:        s.now(),
		ConcurrencyToken: s.nextToken(),
	}
	s.leases[leaseToken] = lease

	return lease.Clone(), true, nil
}

// Acquire sets the owner, conditioned on the concurrency token.
func (s *Store) Acquire(ctx context.Context, lease types.Lease, owner string) (types.Lease, error) {
	return s.update(ctx, lease, func(l *types.Lease) {
		l.Owner = owner
	})
}

// Renew refreshes the timestamp, conditioned on the concurrency token.
func (s *Store) Renew(ctx context.Context, lease types.Lease) (types.Lease, error) {
	return s.update(ctx, lease, func(*types.Lease) {})
}

// Checkpoint stores the continuation token, conditioned on the concurrency token.
func (s *Store) Checkpoint(ctx context.Context, lease types.Lease, continuationToken string) (types.Lease, error) {
	return s.update(ctx, lease, func(l *types.Lease) {
		l.ContinuationToken = continuationToken
	})
}

// UpdateProperties replaces the properties, conditioned on the concurrency token.
func (s *Store) UpdateProperties(ctx context.Context, lease types.Lease, properties map[string]string) (types.Lease, error) {
	return s.update(ctx, lease, func(l *types.Lease) {
		l.Properties = maps.Clone(properties)
	})
}

// Release clears the owner, conditioned on the concurrency token.
func (s *Store) Release(ctx context.Context, lease types.Lease) (types.Lease, error) {
	return s.update(ctx, lease, func(l *types.Lease) {
		l.Owner = ""
	})
}

// Delete removes the lease, conditioned on the concurrency token.
func (s *Store) Delete(ctx context.Context, lease types.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	current, ok := s.leases[lease.LeaseToken]
	if !ok {
		return types.ErrLeaseNotFound
	}
	if current.ConcurrencyToken != lease.ConcurrencyToken {
		return types.NewConflictError(lease, current.ConcurrencyToken)
	}
	delete(s.leases, lease.LeaseToken)

	return nil
}

// Heartbeat marks hostID alive until now+ttl.
func (s *Store) Heartbeat(ctx context.Context, hostID string, ttl time.Duration) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	s.hosts.Store(hostID, s.now().Add(ttl))

	return nil
}

// ActiveHosts returns hosts with an unexpired heartbeat, sorted.
func (s *Store) ActiveHosts(ctx context.Context) ([]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	var hosts []string
	s.hosts.Range(func(hostID string, expiresAt time.Time) bool {
		if expiresAt.After(now) {
			hosts = append(hosts, hostID)
		} else {
			s.hosts.Delete(hostID)
		}

		return true
	})
	slices.Sort(hosts)

	return hosts, nil
}

// Deregister removes hostID from presence.
func (s *Store) Deregister(ctx context.Context, hostID string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	s.hosts.Delete(hostID)

	return nil
}

func (s *Store) update(ctx context.Context, lease types.Lease, mutate func(*types.Lease)) (types.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return types.Lease{}, err
	}

	current, ok := s.leases[lease.LeaseToken]
	if !ok {
		return types.Lease{}, types.ErrLeaseNotFound
	}
	if current.ConcurrencyToken != lease.ConcurrencyToken {
		return types.Lease{}, types.NewConflictError(lease, current.ConcurrencyToken)
	}

	next := current.Clone()
	mutate(&next)
	next.Timestamp = s.now()
	next.ConcurrencyToken = s.nextToken()
	s.leases[lease.LeaseToken] = next

	return next.Clone(), nil
}

func (s *Store) nextToken() string {
	s.version++
	return strconv.FormatUint(s.version, 10)
}

// check must be called with s.mu held.
func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.unavailable {
		return types.ErrStoreUnavailable
	}

	return nil
}

func (s *Store) guard(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.check(ctx)
}
