package leasefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memfeed "github.com/arloliu/leasefeed/feed/memory"
	"github.com/arloliu/leasefeed/health"
	"github.com/arloliu/leasefeed/internal/processor"
	"github.com/arloliu/leasefeed/source"
	memstore "github.com/arloliu/leasefeed/store/memory"
	"github.com/arloliu/leasefeed/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// changeLog collects every change delivered to an observer.
type changeLog struct {
	mu      sync.Mutex
	changes map[string][]string
}

func newChangeLog() *changeLog {
	return &changeLog{changes: make(map[string][]string)}
}

func (l *changeLog) ProcessChanges(_ context.Context, oc ObserverContext, changes []Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range changes {
		l.changes[oc.PartitionToken] = append(l.changes[oc.PartitionToken], ch.Key)
	}

	return nil
}

func (l *changeLog) keys(partition string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.changes[partition]...)
}

// crash stops every processor of c without releasing its lease, as if the
// host process died.
func crash(t *testing.T, c *Controller) {
	t.Helper()

	c.processors.Range(func(token string, p *processor.Processor) bool {
		p.Abort()
		<-p.Done()
		c.processors.Delete(token)

		return true
	})
	c.procCancel()
}

func ownedBy(t *testing.T, store *memstore.Store, owner string) int {
	t.Helper()

	leases, err := store.ListLeases(t.Context())
	require.NoError(t, err)

	n := 0
	for _, l := range leases {
		if l.Owner == owner {
			n++
		}
	}

	return n
}

func createLeases(t *testing.T, store *memstore.Store, tokens ...string) {
	t.Helper()

	for _, token := range tokens {
		_, _, err := store.CreateIfNotExists(t.Context(), token)
		require.NoError(t, err)
	}
}

// manualConfig disables every timer that would act on its own during a
// tick-driven test.
func manualConfig() Config {
	cfg := DefaultConfig()
	cfg.LeaseExpirationInterval = 30 * time.Second
	cfg.LeaseRenewInterval = 10 * time.Second
	cfg.AcquireInterval = 5 * time.Second
	cfg.AcquireJitter = 0
	cfg.Processor.PollInterval = 10 * time.Millisecond
	cfg.Retry.MaxAttempts = 1

	return cfg
}

func TestController_CrashedHostLeasesMoveAfterExpiration(t *testing.T) {
	ctx := t.Context()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := memstore.New(memstore.WithClock(clock.Now))
	feed := memfeed.New()
	createLeases(t, store, "p-0", "p-1", "p-2", "p-3")

	newHost := func(id string) *Controller {
		cfg := manualConfig()
		c, err := NewController(&cfg, id, store, feed, newChangeLog(),
			WithPresence(store),
			WithClock(clock.Now),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			crash(t, c)
			_ = c.health.Close(context.Background())
		})

		return c
	}

	a := newHost("host-a")
	b := newHost("host-b")

	require.NoError(t, store.Heartbeat(ctx, "host-a", 10*time.Second))
	require.NoError(t, store.Heartbeat(ctx, "host-b", 10*time.Second))

	a.tick(ctx)
	b.tick(ctx)
	require.Equal(t, 2, ownedBy(t, store, "host-a"))
	require.Equal(t, 2, ownedBy(t, store, "host-b"))
	require.Len(t, a.OwnedLeases(), 2)
	require.Len(t, b.OwnedLeases(), 2)

	crash(t, a)

	clock.Advance(20 * time.Second)
	b.tick(ctx)
	require.Len(t, b.OwnedLeases(), 2, "leases of host-a are not expired yet")

	clock.Advance(10 * time.Second)
	b.tick(ctx)
	require.Len(t, b.OwnedLeases(), 2, "a lease exactly at the expiration interval is still live")

	clock.Advance(time.Second)
	b.tick(ctx)
	require.Len(t, b.OwnedLeases(), 4)
	require.Equal(t, 4, ownedBy(t, store, "host-b"))

	for _, l := range b.OwnedLeases() {
		require.Equal(t, LeaseOwnedRunning, b.LeaseState(l.LeaseToken))
	}
}

func TestController_SingleHostTakesEverything(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	createLeases(t, store, "p-0", "p-1", "p-2")

	cfg := manualConfig()
	c, err := NewController(&cfg, "host-a", store, feed, newChangeLog())
	require.NoError(t, err)
	t.Cleanup(func() { crash(t, c) })

	c.tick(ctx)
	require.Len(t, c.OwnedLeases(), 3)

	// A second tick is a no-op.
	c.tick(ctx)
	require.Len(t, c.OwnedLeases(), 3)
	require.Equal(t, 3, ownedBy(t, store, "host-a"))
}

func TestController_ReconcileStopsProcessorOfStolenLease(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	createLeases(t, store, "p-0")

	lost := make(chan Lease, 1)
	cfg := manualConfig()
	c, err := NewController(&cfg, "host-a", store, feed, newChangeLog(),
		WithHooks(&Hooks{
			OnLeaseLost: func(_ context.Context, lease Lease) error {
				lost <- lease
				return nil
			},
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { crash(t, c) })

	c.tick(ctx)
	require.Len(t, c.OwnedLeases(), 1)

	// Another host overwrites the lease behind our back.
	stored, ok := store.Get("p-0")
	require.True(t, ok)
	_, err = store.Acquire(ctx, stored, "host-b")
	require.NoError(t, err)

	c.tick(ctx)
	require.Empty(t, c.OwnedLeases())
	require.Equal(t, LeaseUnowned, c.LeaseState("p-0"))

	select {
	case l := <-lost:
		require.Equal(t, "p-0", l.LeaseToken)
	case <-time.After(time.Second):
		t.Fatal("OnLeaseLost not called")
	}
}

func TestController_ReacquiresOrphan(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	createLeases(t, store, "p-0")

	cfg := manualConfig()
	c, err := NewController(&cfg, "host-a", store, feed, newChangeLog())
	require.NoError(t, err)
	t.Cleanup(func() { crash(t, c) })

	// Left behind by an earlier run of host-a.
	stored, _ := store.Get("p-0")
	_, err = store.Acquire(ctx, stored, "host-a")
	require.NoError(t, err)

	c.tick(ctx)
	require.Len(t, c.OwnedLeases(), 1, "orphans are re-acquired first")
	require.Equal(t, LeaseOwnedRunning, c.LeaseState("p-0"))
}

func TestController_StartStop(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	for _, p := range []string{"p-0", "p-1"} {
		feed.AddPartition(p)
	}
	feed.Append("p-0", "k1", []byte("v1"))
	feed.Append("p-1", "k2", []byte("v2"))

	observed := newChangeLog()
	cfg := TestConfig()
	c, err := NewController(&cfg, "host-a", store, feed, observed, WithPartitionSource(feed))
	require.NoError(t, err)
	require.Equal(t, StateInit, c.State())
	require.ErrorIs(t, c.Stop(ctx), ErrNotStarted)

	require.NoError(t, c.Start(ctx))
	require.Equal(t, StateRunning, c.State())
	require.ErrorIs(t, c.Start(ctx), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		return len(observed.keys("p-0")) == 1 && len(observed.keys("p-1")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	hosts, err := store.ActiveHosts(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"host-a"}, hosts)

	require.NoError(t, c.Stop(ctx))
	require.Equal(t, StateStopped, c.State())
	require.ErrorIs(t, c.Stop(ctx), ErrNotStarted)
	require.ErrorIs(t, c.Start(ctx), ErrAlreadyStarted)

	for _, token := range []string{"p-0", "p-1"} {
		l, ok := store.Get(token)
		require.True(t, ok)
		require.Empty(t, l.Owner, "lease %s released on stop", token)
		require.Equal(t, "1", l.ContinuationToken, "final checkpoint for %s", token)
		require.Equal(t, LeaseReleased, c.LeaseState(token))
	}

	hosts, err = store.ActiveHosts(ctx)
	require.NoError(t, err)
	require.Empty(t, hosts, "host deregistered on stop")
}

func TestController_TwoHostsBalance(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	src := source.NewRange("p-", 4)

	start := func(id string) *Controller {
		cfg := TestConfig()
		c, err := NewController(&cfg, id, store, feed, newChangeLog(), WithPartitionSource(src))
		require.NoError(t, err)
		require.NoError(t, c.Start(ctx))
		t.Cleanup(func() { _ = c.Stop(context.Background()) })

		return c
	}

	a := start("host-a")
	require.Eventually(t, func() bool {
		return len(a.OwnedLeases()) == 4
	}, 5*time.Second, 10*time.Millisecond)

	b := start("host-b")
	require.Eventually(t, func() bool {
		return len(a.OwnedLeases()) == 2 && len(b.OwnedLeases()) == 2
	}, 10*time.Second, 20*time.Millisecond)

	// Stopping host-b hands its leases back.
	require.NoError(t, b.Stop(ctx))
	require.Eventually(t, func() bool {
		return len(a.OwnedLeases()) == 4
	}, 10*time.Second, 20*time.Millisecond)
}

func TestController_StoreOutageReportsCritical(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	createLeases(t, store, "p-0")
	recorder := health.NewRecorder()

	var hookErrs atomic.Int32
	cfg := TestConfig()
	cfg.Retry.MaxAttempts = 2
	c, err := NewController(&cfg, "host-a", store, feed, newChangeLog(),
		WithHealthMonitor(recorder),
		WithHooks(&Hooks{
			OnError: func(context.Context, error) error {
				hookErrs.Add(1)
				return nil
			},
		}),
	)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		return len(c.OwnedLeases()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	store.SetUnavailable(true)
	require.Eventually(t, func() bool {
		recs := recorder.Filter(SeverityCritical, types.OpListLeases)
		return len(recs) > 0 && hookErrs.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)

	recs := recorder.Filter(SeverityCritical, types.OpListLeases)
	require.ErrorIs(t, recs[0].Err, ErrStoreUnavailable)
	require.Equal(t, "host-a", recs[0].HostID)

	store.SetUnavailable(false)
}

func TestController_PartitionSync(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	src := source.NewStatic([]string{"p-0", "p-1"})

	cfg := TestConfig()
	cfg.PartitionRefreshInterval = time.Hour
	c, err := NewController(&cfg, "host-a", store, feed, newChangeLog(), WithPartitionSource(src))
	require.NoError(t, err)
	require.ErrorIs(t, c.RefreshPartitions(ctx), ErrNotStarted)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 2, "initial sync runs during Start")

	require.Eventually(t, func() bool {
		return len(c.OwnedLeases()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	src.Update([]string{"p-1", "p-2"})
	require.NoError(t, c.RefreshPartitions(ctx))

	_, ok := store.Get("p-0")
	require.False(t, ok, "lease of a vanished partition is deleted")
	_, ok = store.Get("p-2")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		owned := c.OwnedLeases()
		return len(owned) == 2 && owned[0].LeaseToken == "p-1" && owned[1].LeaseToken == "p-2"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestController_PartitionSyncKeepsLiveForeignLease(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	createLeases(t, store, "p-0", "p-9")

	stored, _ := store.Get("p-9")
	_, err := store.Acquire(ctx, stored, "host-b")
	require.NoError(t, err)

	cfg := manualConfig()
	c, err := NewController(&cfg, "host-a", store, feed, newChangeLog(),
		WithPartitionSource(source.NewStatic([]string{"p-0"})))
	require.NoError(t, err)
	t.Cleanup(func() { crash(t, c) })

	require.NoError(t, c.syncPartitions(ctx))

	_, ok := store.Get("p-9")
	require.True(t, ok, "a live owner deletes its own lease")
}

func TestController_FailFastReleasesLease(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	feed := memfeed.New()
	feed.AddPartition("p-0")
	feed.Append("p-0", "k1", nil)

	var (
		calls    atomic.Int32
		released atomic.Int32
	)
	observer := ObserverFunc(func(context.Context, ObserverContext, []Change) error {
		if calls.Add(1) == 1 {
			return errors.New("boom")
		}

		return nil
	})

	cfg := TestConfig()
	cfg.Processor.FailFastOnObserverError = true
	c, err := NewController(&cfg, "host-a", store, feed, observer,
		WithPartitionSource(feed),
		WithHooks(&Hooks{
			OnLeaseReleased: func(context.Context, Lease) error {
				released.Add(1)
				return nil
			},
		}),
	)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	// Released after the failure, then acquired again and processed.
	require.Eventually(t, func() bool {
		l, _ := store.Get("p-0")
		return released.Load() >= 1 && calls.Load() >= 2 && l.ContinuationToken == "1"
	}, 5*time.Second, 10*time.Millisecond)
}

// releaseCounter counts Release calls reaching the store.
type releaseCounter struct {
	*memstore.Store
	releases atomic.Int32
}

func (s *releaseCounter) Release(ctx context.Context, lease Lease) (Lease, error) {
	s.releases.Add(1)
	return s.Store.Release(ctx, lease)
}

func TestController_StopTimeoutAbandonsLease(t *testing.T) {
	ctx := t.Context()
	store := &releaseCounter{Store: memstore.New()}
	feed := memfeed.New()
	feed.AddPartition("p-0")
	feed.Append("p-0", "k1", nil)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	observer := ObserverFunc(func(context.Context, ObserverContext, []Change) error {
		once.Do(func() { close(entered) })
		<-unblock

		return nil
	})

	cfg := TestConfig()
	cfg.LeaseExpirationInterval = 30 * time.Second
	cfg.LeaseRenewInterval = 10 * time.Second
	cfg.ShutdownTimeout = 100 * time.Millisecond
	c, err := NewController(&cfg, "host-a", store, feed, observer, WithPartitionSource(feed))
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		close(unblock)
		t.Fatal("observer was never called")
	}
	p, ok := c.processors.Load("p-0")
	require.True(t, ok)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))

	require.Equal(t, LeaseExpired, c.LeaseState("p-0"))
	require.Zero(t, store.releases.Load())

	held, ok := store.Get("p-0")
	require.True(t, ok)
	require.Equal(t, "host-a", held.Owner, "abandoned lease is left to expire")

	close(unblock)
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("aborted processor did not exit")
	}

	after, ok := store.Get("p-0")
	require.True(t, ok)
	require.Equal(t, held.ConcurrencyToken, after.ConcurrencyToken)
	require.Equal(t, held.ContinuationToken, after.ContinuationToken)
	require.Zero(t, store.releases.Load())
}

func TestController_HungReleasesDelayTickPerLease(t *testing.T) {
	ctx := t.Context()
	store := &releaseCounter{Store: memstore.New()}
	feed := memfeed.New()
	createLeases(t, store.Store, "p-0", "p-1")
	feed.Append("p-0", "k1", nil)
	feed.Append("p-1", "k1", nil)

	var entered atomic.Int32
	unblock := make(chan struct{})
	observer := ObserverFunc(func(context.Context, ObserverContext, []Change) error {
		entered.Add(1)
		<-unblock

		return nil
	})

	cfg := manualConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	c, err := NewController(&cfg, "host-a", store, feed, observer)
	require.NoError(t, err)
	t.Cleanup(func() { crash(t, c) })
	t.Cleanup(func() { close(unblock) })

	c.tick(ctx)
	owned := c.OwnedLeases()
	require.Len(t, owned, 2)
	require.Eventually(t, func() bool { return entered.Load() == 2 }, 5*time.Second, 5*time.Millisecond)

	// Handoffs run one after another on the control loop.
	start := time.Now()
	for _, l := range owned {
		c.release(ctx, l)
	}
	require.GreaterOrEqual(t, time.Since(start), 2*cfg.ShutdownTimeout)

	require.Empty(t, c.OwnedLeases())
	for _, l := range owned {
		require.Equal(t, LeaseExpired, c.LeaseState(l.LeaseToken))
	}
	require.Zero(t, store.releases.Load())
}

func TestNewController_Validation(t *testing.T) {
	store := memstore.New()
	feed := memfeed.New()
	obs := newChangeLog()
	valid := func() *Config {
		cfg := TestConfig()
		return &cfg
	}

	tests := []struct {
		name     string
		cfg      *Config
		hostID   string
		store    LeaseStore
		feed     ChangeFeed
		observer Observer
		wantErr  error
	}{
		{"nil config", nil, "h", store, feed, obs, ErrInvalidConfig},
		{"blank host", valid(), "  ", store, feed, obs, ErrInvalidHostID},
		{"nil store", valid(), "h", nil, feed, obs, ErrLeaseStoreRequired},
		{"nil feed", valid(), "h", store, nil, obs, ErrChangeFeedRequired},
		{"nil observer", valid(), "h", store, feed, nil, ErrObserverRequired},
		{"renew too slow", func() *Config {
			cfg := TestConfig()
			cfg.LeaseRenewInterval = cfg.LeaseExpirationInterval
			return &cfg
		}(), "h", store, feed, obs, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewController(tt.cfg, tt.hostID, tt.store, tt.feed, tt.observer)
			require.ErrorIs(t, err, tt.wantErr)
			require.Nil(t, c)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := Config{}
		c, err := NewController(&cfg, "h", store, feed, obs)
		require.NoError(t, err)
		require.Equal(t, DefaultConfig().AcquireInterval, c.cfg.AcquireInterval)
		require.NotNil(t, c.strategy)
		require.Nil(t, c.presence, "presence switch is off in a zero Config")
		require.Equal(t, StateInit, c.State())
		require.Equal(t, LeaseUnowned, c.LeaseState("unknown"))
		require.NoError(t, c.health.Close(context.Background()))
	})

	t.Run("store doubles as presence registry", func(t *testing.T) {
		c, err := NewController(valid(), "h", store, feed, obs)
		require.NoError(t, err)
		require.Same(t, store, c.presence)
		require.NoError(t, c.health.Close(context.Background()))
	})
}

func TestIsValidTransition(t *testing.T) {
	require.True(t, isValidTransition(StateInit, StateStarting))
	require.True(t, isValidTransition(StateRunning, StateStopping))
	require.False(t, isValidTransition(StateStopped, StateRunning))
	require.False(t, isValidTransition(StateInit, StateRunning))
}
