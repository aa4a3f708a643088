package leasefeed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/leasefeed/health"
	"github.com/arloliu/leasefeed/internal/backoff"
	"github.com/arloliu/leasefeed/internal/heartbeat"
	"github.com/arloliu/leasefeed/internal/hooks"
	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/internal/metrics"
	"github.com/arloliu/leasefeed/internal/processor"
	"github.com/arloliu/leasefeed/strategy"
	"github.com/arloliu/leasefeed/types"
)

// Controller distributes the partitions of a change feed across hosts and
// processes the partitions this host owns.
//
// Every host runs one Controller against the same LeaseStore. There is no
// coordinator: each control-loop tick the controller reads all leases, asks
// the LoadBalancingStrategy which leases to acquire and release, and acts on
// that decision with compare-and-swap writes. A processor goroutine runs for
// every owned lease.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - The control loop itself runs on a single goroutine
//
// Lifecycle:
//   - Create with NewController()
//   - Call Start() to register presence and begin the control loop
//   - Call Stop() to stop processors, release leases and deregister
//
// A stopped Controller cannot be restarted; create a new one instead.
type Controller struct {
	cfg      Config
	hostID   string
	store    LeaseStore
	feed     ChangeFeed
	observer Observer

	// Optional dependencies
	strategy LoadBalancingStrategy
	source   PartitionSource
	presence PresenceRegistry
	hooks    Hooks
	metrics  MetricsCollector
	logger   Logger
	health   *health.Dispatcher
	now      func() time.Time
	rng      *rand.Rand

	heartbeat *heartbeat.Publisher

	processors  *xsync.Map[string, *processor.Processor]
	leaseStates *xsync.Map[string, LeaseState]
	state       atomic.Int32 // State

	// lastSync is only touched by the control loop.
	lastSync  time.Time
	refreshCh chan chan error

	// Lifecycle management. Processors outlive the loop context so a
	// shutdown can stop them cooperatively.
	ctx        context.Context
	cancel     context.CancelFunc
	procCtx    context.Context
	procCancel context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
}

// NewController creates a new Controller instance.
//
// Missing configuration values are filled with defaults before validation;
// cfg is modified in place.
//
// Parameters:
//   - cfg: Configuration (see DefaultConfig)
//   - hostID: Unique, stable identity of this host
//   - store: Lease store shared by all hosts
//   - feed: Change feed to read partitions from
//   - observer: Application callback receiving batches
//   - opts: Optional configuration (logger, metrics, hooks, health monitor,
//     strategy, partition source, presence, clock)
//
// Returns:
//   - *Controller: Initialized controller in StateInit
//   - error: ErrInvalidConfig, ErrInvalidHostID, or a missing-dependency error
//
// Example:
//
//	cfg := leasefeed.DefaultConfig()
//	store := memory.New()
//	feed := memfeed.New()
//	ctrl, err := leasefeed.NewController(&cfg, "host-a", store, feed,
//	    leasefeed.ObserverFunc(handle),
//	    leasefeed.WithPartitionSource(feed))
//	if err != nil { /* handle */ }
//	if err := ctrl.Start(ctx); err != nil { /* handle */ }
//	defer ctrl.Stop(context.Background())
func NewController(
	cfg *Config,
	hostID string,
	store LeaseStore,
	feed ChangeFeed,
	observer Observer,
	opts ...Option,
) (*Controller, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if strings.TrimSpace(hostID) == "" {
		return nil, ErrInvalidHostID
	}
	if store == nil {
		return nil, ErrLeaseStoreRequired
	}
	if feed == nil {
		return nil, ErrChangeFeedRequired
	}
	if observer == nil {
		return nil, ErrObserverRequired
	}

	// Fill in missing configuration values with defaults
	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &controllerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	balancer := options.strategy
	if balancer == nil {
		balancer = strategy.NewEqualShare()
	}

	monitor := options.health
	if monitor == nil {
		monitor = health.NewLogging(loggerInstance)
	}

	presence := options.presence
	if presence == nil && cfg.Presence.Enabled {
		if registry, ok := store.(PresenceRegistry); ok {
			presence = registry
		}
	}

	now := options.now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		cfg:         *cfg,
		hostID:      hostID,
		store:       store,
		feed:        feed,
		observer:    observer,
		strategy:    balancer,
		source:      options.source,
		presence:    presence,
		hooks:       hooks.Merge(options.hooks),
		metrics:     metricsCollector,
		logger:      loggerInstance,
		now:         now,
		rng:         backoff.NewRNG(options.rngSeed),
		processors:  xsync.NewMap[string, *processor.Processor](),
		leaseStates: xsync.NewMap[string, LeaseState](),
		refreshCh:   make(chan chan error),
	}
	c.health = health.NewDispatcher(monitor, cfg.Health.BufferSize,
		health.WithLogger(loggerInstance),
		health.WithMetrics(metricsCollector),
	)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.procCtx, c.procCancel = context.WithCancel(context.Background())
	c.state.Store(int32(StateInit))

	if presence == nil && cfg.Presence.Enabled {
		loggerInstance.Warn("presence enabled but the lease store is not a PresenceRegistry; presence disabled",
			"host_id", hostID)
	}

	return c, nil
}

// Start registers presence and starts the control loop.
//
// The first tick runs immediately in the background; Start does not wait for
// leases to be acquired.
//
// Parameters:
//   - ctx: Context for the initial heartbeat and partition sync
//
// Returns:
//   - error: ErrAlreadyStarted if Start was called before, or the presence
//     registration error
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateInit {
		return ErrAlreadyStarted
	}
	c.transitionState(StateInit, StateStarting)

	if c.presence != nil {
		c.heartbeat = heartbeat.New(c.presence, c.hostID, c.cfg.Presence.HeartbeatInterval, c.cfg.Presence.TTL)
		c.heartbeat.SetLogger(c.logger)
		c.heartbeat.SetMetrics(c.metrics)
		if err := c.heartbeat.Start(ctx); err != nil {
			c.report(ctx, SeverityError, types.OpHeartbeat, Lease{}, err)
			c.transitionState(StateStarting, StateStopped)
			c.shutdownInternals(ctx)

			return fmt.Errorf("failed to register presence: %w", err)
		}
	}

	if c.source != nil {
		if err := c.syncPartitions(ctx); err != nil {
			// Not fatal: the next sync retries.
			c.logger.Warn("initial partition sync failed", "host_id", c.hostID, "error", err)
		}
	}

	c.transitionState(StateStarting, StateRunning)

	c.wg.Add(1)
	go c.loop()

	return nil
}

// Stop gracefully shuts down the controller.
//
// Shutdown sequence:
//  1. Stop the control loop
//  2. Signal every processor to stop and wait up to Config.ShutdownTimeout
//  3. Release the leases of stopped processors; abandon the rest to expiration
//  4. Stop presence heartbeats and deregister
//  5. Drain pending health records
//
// Parameters:
//   - ctx: Context bounding the whole shutdown
//
// Returns:
//   - error: ErrNotStarted if the controller is not running, or a shutdown error
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	current := c.State()
	if current != StateRunning {
		c.mu.Unlock()

		return ErrNotStarted
	}
	c.transitionState(current, StateStopping)
	c.cancel()
	c.mu.Unlock()

	var shutdownErr error

	// Step 1: wait for the control loop
	loopDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(loopDone)
	}()
	select {
	case <-loopDone:
	case <-ctx.Done():
		shutdownErr = fmt.Errorf("control loop did not exit: %w", ctx.Err())
	}

	// Steps 2-3: stop processors and release
	c.stopAllProcessors(ctx)

	// Step 4: presence
	if c.heartbeat != nil {
		if err := c.heartbeat.Stop(ctx); err != nil && !errors.Is(err, heartbeat.ErrNotStarted) {
			c.logger.Error("failed to stop heartbeat", "host_id", c.hostID, "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("heartbeat stop failed: %w", err))
		}
	}

	// Step 5: health
	c.shutdownInternals(ctx)
	c.transitionState(StateStopping, StateStopped)
	c.logger.Info("controller stopped", "host_id", c.hostID)

	return shutdownErr
}

// HostID returns the identity of this host.
func (c *Controller) HostID() string {
	return c.hostID
}

// State returns the current controller state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// OwnedLeases returns the latest copies of the leases this host processes,
// sorted by lease token.
func (c *Controller) OwnedLeases() []Lease {
	var out []Lease
	c.processors.Range(func(_ string, p *processor.Processor) bool {
		out = append(out, p.Lease())
		return true
	})
	slices.SortFunc(out, func(a, b Lease) int {
		return cmp.Compare(a.LeaseToken, b.LeaseToken)
	})

	return out
}

// LeaseState returns this host's view of a lease. Leases this host never
// touched report LeaseUnowned.
func (c *Controller) LeaseState(leaseToken string) LeaseState {
	if s, ok := c.leaseStates.Load(leaseToken); ok {
		return s
	}

	return LeaseUnowned
}

// RefreshPartitions syncs the partition source with the lease store now,
// instead of waiting for Config.PartitionRefreshInterval.
//
// The sync runs on the control-loop goroutine; this call waits for it.
//
// Parameters:
//   - ctx: Context for waiting
//
// Returns:
//   - error: ErrNotStarted if the controller is not running, or the sync error
//
// Example:
//
//	src.Update(append(tokens, "p-new"))
//	if err := ctrl.RefreshPartitions(ctx); err != nil {
//	    log.Printf("partition sync failed: %v", err)
//	}
func (c *Controller) RefreshPartitions(ctx context.Context) error {
	if c.State() != StateRunning {
		return ErrNotStarted
	}
	if c.source == nil {
		return nil
	}

	reply := make(chan error, 1)
	select {
	case c.refreshCh <- reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrNotStarted
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case reply := <-c.refreshCh:
			reply <- c.syncPartitions(c.ctx)
		case <-timer.C:
			c.tick(c.ctx)
			timer.Reset(c.cfg.AcquireInterval + backoff.Spread(c.cfg.AcquireJitter, c.rng))
		}
	}
}

// tick runs one control-loop iteration.
func (c *Controller) tick(ctx context.Context) {
	started := time.Now()

	if c.source != nil && c.now().Sub(c.lastSync) >= c.cfg.PartitionRefreshInterval {
		if err := c.syncPartitions(ctx); err != nil {
			c.logger.Warn("partition sync failed", "host_id", c.hostID, "error", err)
		}
	}

	// Reap before listing so leases released here show up as free.
	c.reapExited(ctx)

	leases, err := c.listLeases(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.report(ctx, SeverityCritical, types.OpListLeases, Lease{}, err)
			c.fireError(err)
		}
		c.metrics.RecordControlLoop(time.Since(started).Seconds(), false)

		return
	}
	c.metrics.RecordTotalLeases(len(leases))

	byToken := make(map[string]Lease, len(leases))
	for _, l := range leases {
		byToken[l.LeaseToken] = l
	}

	c.reconcile(ctx, byToken)

	in := BalanceInput{
		HostID:             c.hostID,
		Leases:             leases,
		Owned:              c.OwnedLeases(),
		ActiveHosts:        c.activeHosts(ctx),
		Now:                c.now(),
		ExpirationInterval: c.cfg.LeaseExpirationInterval,
	}
	c.metrics.RecordActiveHosts(len(strategy.ActiveHosts(in)))

	decision := c.strategy.Balance(in)
	if !decision.IsEmpty() {
		c.logger.Debug("balance decision",
			"host_id", c.hostID,
			"acquire", len(decision.Acquire),
			"release", len(decision.Release),
		)
	}

	for _, l := range decision.Acquire {
		if ctx.Err() != nil {
			break
		}
		c.acquire(ctx, l)
	}

	for _, l := range decision.Release {
		if ctx.Err() != nil {
			break
		}
		c.release(ctx, l)
	}

	c.metrics.RecordOwnedLeases(c.processors.Size())
	c.metrics.RecordControlLoop(time.Since(started).Seconds(), true)
}

// reapExited handles processors that exited without being asked to.
func (c *Controller) reapExited(ctx context.Context) {
	c.processors.Range(func(token string, p *processor.Processor) bool {
		select {
		case <-p.Done():
		default:
			return true
		}

		c.processors.Delete(token)
		res := p.Result()

		switch res.Reason {
		case processor.ReasonLeaseLost:
			c.onLost(ctx, res.Lease, "")
		case processor.ReasonLeaseGone:
			c.setLeaseState(ctx, token, LeaseUnowned)
			c.leaseStates.Delete(token)
		default:
			// Observer failure (fail-fast) or an unexpected exit: hand the lease back.
			c.logger.Warn("processor exited",
				"host_id", c.hostID,
				"lease", token,
				"reason", res.Reason.String(),
				"error", res.Err,
			)
			c.setLeaseState(ctx, token, LeaseReleasing)
			c.releaseStopped(ctx, res.Lease)
		}

		return true
	})
}

// reconcile stops processors whose lease is stored with another owner or is missing.
func (c *Controller) reconcile(ctx context.Context, byToken map[string]Lease) {
	c.processors.Range(func(token string, p *processor.Processor) bool {
		stored, ok := byToken[token]
		switch {
		case !ok:
			p.Abort()
			c.processors.Delete(token)
			c.logger.Info("lease deleted while owned", "host_id", c.hostID, "lease", token)
			c.setLeaseState(ctx, token, LeaseUnowned)
			c.leaseStates.Delete(token)

		case stored.Owner != c.hostID:
			p.Abort()
			c.processors.Delete(token)
			c.onLost(ctx, p.Lease(), stored.Owner)
		}

		return true
	})
}

// onLost records that another host took over lease, the last copy this host
// wrote. The lease counts as expired when that copy had already expired.
func (c *Controller) onLost(ctx context.Context, lease Lease, newOwner string) {
	to := LeaseUnowned
	if lease.IsExpired(c.cfg.LeaseExpirationInterval, c.now()) {
		to = LeaseExpired
	}

	c.logger.Info("lease lost", "host_id", c.hostID, "lease", lease.LeaseToken, "new_owner", newOwner)
	c.report(ctx, SeverityInformational, types.OpRenewLease, lease, ErrLeaseLost)
	c.metrics.RecordLeaseOperation(types.OpRenewLease, "lost")
	c.setLeaseState(ctx, lease.LeaseToken, to)
	c.fireLease(c.hooks.OnLeaseLost, lease)
}

// acquire tries to take lease and starts its processor on success.
func (c *Controller) acquire(ctx context.Context, lease Lease) {
	if _, running := c.processors.Load(lease.LeaseToken); running {
		return
	}

	if !c.sleep(ctx, backoff.Spread(c.cfg.AcquireJitter, c.rng)) {
		return
	}

	token := lease.LeaseToken
	c.setLeaseState(ctx, token, LeaseAcquiring)

	var acquired Lease
	err := c.retry(ctx, types.OpAcquireLease, func(opCtx context.Context) error {
		l, err := c.store.Acquire(opCtx, lease, c.hostID)
		if err != nil {
			return err
		}
		acquired = l

		return nil
	})

	switch {
	case err == nil:
		c.metrics.RecordLeaseOperation(types.OpAcquireLease, "success")
		c.startProcessor(acquired)
		c.setLeaseState(ctx, token, LeaseOwnedRunning)
		c.logger.Info("lease acquired",
			"host_id", c.hostID,
			"lease", token,
			"continuation", acquired.ContinuationToken,
			"previous_owner", lease.Owner,
		)
		c.fireLease(c.hooks.OnLeaseAcquired, acquired)

	case IsLeaseLost(err):
		c.metrics.RecordLeaseOperation(types.OpAcquireLease, "conflict")
		c.report(ctx, SeverityInformational, types.OpAcquireLease, lease, err)
		c.setLeaseState(ctx, token, LeaseUnowned)

	case IsLeaseNotFound(err):
		c.metrics.RecordLeaseOperation(types.OpAcquireLease, "not_found")
		c.setLeaseState(ctx, token, LeaseUnowned)
		c.leaseStates.Delete(token)

	default:
		c.metrics.RecordLeaseOperation(types.OpAcquireLease, "error")
		if ctx.Err() == nil {
			c.report(ctx, SeverityError, types.OpAcquireLease, lease, err)
		}
		c.setLeaseState(ctx, token, LeaseUnowned)
	}
}

// release stops the processor of lease, then clears ownership.
func (c *Controller) release(ctx context.Context, lease Lease) {
	p, ok := c.processors.Load(lease.LeaseToken)
	if !ok {
		if lease.IsOwnedBy(c.hostID) {
			// Stored as ours without a processor; just hand it back.
			c.releaseStopped(ctx, lease)
		}

		return
	}

	c.setLeaseState(ctx, lease.LeaseToken, LeaseReleasing)
	res, stopped := c.stopProcessor(ctx, p)
	c.processors.Delete(lease.LeaseToken)

	if !stopped {
		return
	}
	c.finishStopped(ctx, res)
}

// finishStopped completes a cooperative stop according to the processor result.
func (c *Controller) finishStopped(ctx context.Context, res processor.Result) {
	switch res.Reason {
	case processor.ReasonLeaseLost:
		c.onLost(ctx, res.Lease, "")
	case processor.ReasonLeaseGone:
		c.setLeaseState(ctx, res.Lease.LeaseToken, LeaseUnowned)
		c.leaseStates.Delete(res.Lease.LeaseToken)
	default:
		c.releaseStopped(ctx, res.Lease)
	}
}

// stopProcessor signals p and waits up to ShutdownTimeout. On timeout the
// processor is aborted and its lease left to expire.
func (c *Controller) stopProcessor(ctx context.Context, p *processor.Processor) (processor.Result, bool) {
	p.Stop()

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
	defer cancel()

	res, err := p.Wait(waitCtx)
	if err == nil {
		return res, true
	}

	p.Abort()
	token := p.LeaseToken()
	c.logger.Warn("processor did not stop in time, abandoning lease",
		"host_id", c.hostID,
		"lease", token,
		"timeout", c.cfg.ShutdownTimeout,
	)
	c.report(ctx, SeverityError, types.OpStopProcessor, p.Lease(), err)
	c.setLeaseState(ctx, token, LeaseExpired)

	return processor.Result{}, false
}

// releaseStopped clears ownership of a lease whose processor has exited.
// A failed release is logged; expiration reclaims the lease.
//
// Leases this host stored as owned without running a processor, left behind
// by an earlier crash, are released without touching the lease state.
func (c *Controller) releaseStopped(ctx context.Context, lease Lease) {
	writeCtx := context.WithoutCancel(ctx)
	token := lease.LeaseToken
	tracked := c.LeaseState(token) == LeaseReleasing

	var released Lease
	err := c.retry(writeCtx, types.OpReleaseLease, func(opCtx context.Context) error {
		l, err := c.store.Release(opCtx, lease)
		if err != nil {
			return err
		}
		released = l

		return nil
	})

	switch {
	case err == nil:
		c.metrics.RecordLeaseOperation(types.OpReleaseLease, "success")
		if tracked {
			c.setLeaseState(ctx, token, LeaseReleased)
		}
		c.logger.Info("lease released",
			"host_id", c.hostID,
			"lease", token,
			"continuation", released.ContinuationToken,
		)
		c.fireLease(c.hooks.OnLeaseReleased, released)

	case IsLeaseLost(err):
		c.metrics.RecordLeaseOperation(types.OpReleaseLease, "conflict")
		if tracked {
			c.setLeaseState(ctx, token, LeaseUnowned)
		}

	case IsLeaseNotFound(err):
		c.metrics.RecordLeaseOperation(types.OpReleaseLease, "not_found")
		if tracked {
			c.setLeaseState(ctx, token, LeaseUnowned)
		}
		c.leaseStates.Delete(token)

	default:
		c.metrics.RecordLeaseOperation(types.OpReleaseLease, "error")
		c.logger.Warn("lease release failed, leaving it to expire",
			"host_id", c.hostID,
			"lease", token,
			"error", err,
		)
		c.report(ctx, SeverityError, types.OpReleaseLease, lease, err)
		if tracked {
			c.setLeaseState(ctx, token, LeaseExpired)
		}
	}
}

// stopAllProcessors stops every processor in parallel, bounded by ShutdownTimeout.
func (c *Controller) stopAllProcessors(ctx context.Context) {
	var wg sync.WaitGroup
	c.processors.Range(func(token string, p *processor.Processor) bool {
		if c.LeaseState(token) == LeaseOwnedRunning {
			c.setLeaseState(ctx, token, LeaseReleasing)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, stopped := c.stopProcessor(ctx, p)
			c.processors.Delete(token)
			if stopped {
				c.finishStopped(ctx, res)
			}
		}()

		return true
	})
	wg.Wait()
}

// syncPartitions creates leases for new partitions and deletes the leases of
// vanished ones.
//
// A vanished partition's lease is only deleted when it is unowned, expired,
// or owned by this host; a live owner deletes its own lease on its next sync.
func (c *Controller) syncPartitions(ctx context.Context) error {
	partitions, err := c.listPartitions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.report(ctx, SeverityError, types.OpListPartitions, Lease{}, err)
		}

		return fmt.Errorf("list partitions: %w", err)
	}

	leases, err := c.listLeases(ctx)
	if err != nil {
		return fmt.Errorf("list leases: %w", err)
	}
	c.lastSync = c.now()

	existing := make(map[string]Lease, len(leases))
	for _, l := range leases {
		existing[l.LeaseToken] = l
	}
	wanted := make(map[string]struct{}, len(partitions))

	var syncErr error
	for _, token := range partitions {
		wanted[token] = struct{}{}
		if _, ok := existing[token]; ok {
			continue
		}

		err := c.retry(ctx, types.OpCreateLease, func(opCtx context.Context) error {
			_, created, err := c.store.CreateIfNotExists(opCtx, token)
			if err == nil && created {
				c.logger.Info("lease created", "host_id", c.hostID, "lease", token)
			}

			return err
		})
		c.metrics.RecordLeaseOperation(types.OpCreateLease, resultLabel(err))
		if err != nil {
			c.report(ctx, SeverityError, types.OpCreateLease, Lease{LeaseToken: token}, err)
			syncErr = errors.Join(syncErr, fmt.Errorf("create lease %s: %w", token, err))
		}
	}

	now := c.now()
	for token, lease := range existing {
		if _, ok := wanted[token]; ok {
			continue
		}

		if p, running := c.processors.Load(token); running {
			c.setLeaseState(ctx, token, LeaseReleasing)
			res, stopped := c.stopProcessor(ctx, p)
			c.processors.Delete(token)
			if !stopped {
				continue
			}
			if res.Reason == processor.ReasonLeaseLost || res.Reason == processor.ReasonLeaseGone {
				c.finishStopped(ctx, res)
				continue
			}
			lease = res.Lease
		} else if lease.IsOwned() && !lease.IsOwnedBy(c.hostID) && !lease.IsExpired(c.cfg.LeaseExpirationInterval, now) {
			continue
		}

		if err := c.deleteLease(ctx, lease); err != nil {
			syncErr = errors.Join(syncErr, err)
		}
	}

	return syncErr
}

func (c *Controller) deleteLease(ctx context.Context, lease Lease) error {
	err := c.retry(ctx, types.OpDeleteLease, func(opCtx context.Context) error {
		return c.store.Delete(opCtx, lease)
	})
	c.metrics.RecordLeaseOperation(types.OpDeleteLease, resultLabel(err))

	token := lease.LeaseToken
	switch {
	case err == nil:
		c.logger.Info("lease deleted, partition gone", "host_id", c.hostID, "lease", token)
		if c.LeaseState(token) == LeaseReleasing {
			c.setLeaseState(ctx, token, LeaseReleased)
		}
		c.leaseStates.Delete(token)

		return nil

	case IsLeaseNotFound(err):
		c.leaseStates.Delete(token)
		return nil

	case IsLeaseLost(err):
		// Someone wrote it since the snapshot; the next sync decides again.
		if c.LeaseState(token) == LeaseReleasing {
			c.setLeaseState(ctx, token, LeaseUnowned)
		}

		return nil

	default:
		c.report(ctx, SeverityError, types.OpDeleteLease, lease, err)
		return fmt.Errorf("delete lease %s: %w", token, err)
	}
}

func (c *Controller) startProcessor(lease Lease) {
	p := processor.New(c.cfg.processorConfig(c.hostID), lease, processor.Deps{
		Store:    c.store,
		Feed:     c.feed,
		Observer: c.observer,
		Health:   c.health,
		Metrics:  c.metrics,
		Logger:   c.logger,
		Now:      c.now,
	})
	c.processors.Store(lease.LeaseToken, p)
	p.Start(c.procCtx)
}

func (c *Controller) listLeases(ctx context.Context) ([]Lease, error) {
	var leases []Lease
	err := c.retry(ctx, types.OpListLeases, func(opCtx context.Context) error {
		l, err := c.store.ListLeases(opCtx)
		if err != nil {
			return err
		}
		leases = l

		return nil
	})
	c.metrics.RecordLeaseOperation(types.OpListLeases, resultLabel(err))

	return leases, err
}

func (c *Controller) listPartitions(ctx context.Context) ([]string, error) {
	var partitions []string
	err := c.retry(ctx, types.OpListPartitions, func(opCtx context.Context) error {
		p, err := c.source.ListPartitions(opCtx)
		if err != nil {
			return err
		}
		partitions = p

		return nil
	})

	return partitions, err
}

// activeHosts returns the presence view, or nil when presence is off or unreadable.
func (c *Controller) activeHosts(ctx context.Context) []string {
	if c.presence == nil {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	hosts, err := c.presence.ActiveHosts(opCtx)
	if err != nil {
		c.logger.Debug("presence read failed, balancing on lease owners only", "host_id", c.hostID, "error", err)
		return nil
	}

	return hosts
}

// retry runs fn under the configured retry policy with a per-attempt timeout.
func (c *Controller) retry(ctx context.Context, op types.Operation, fn func(context.Context) error) error {
	return backoff.Retry(ctx, c.cfg.retryPolicy(), IsTransient, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
		defer cancel()

		return fn(opCtx)
	}, func(attempt int, err error) {
		c.logger.Debug("retrying", "host_id", c.hostID, "operation", string(op), "attempt", attempt, "error", err)
	})
}

// sleep waits for d or until ctx ends. It reports whether the full duration elapsed.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// setLeaseState applies a validated per-lease state transition.
func (c *Controller) setLeaseState(_ context.Context, token string, to LeaseState) {
	from := c.LeaseState(token)
	if from == to {
		return
	}
	if !from.CanTransitionTo(to) {
		c.logger.Error("invalid lease state transition attempted",
			"host_id", c.hostID,
			"lease", token,
			"from", from.String(),
			"to", to.String(),
		)

		return
	}

	c.leaseStates.Store(token, to)
	c.metrics.RecordLeaseStateTransition(from, to)
	c.logger.Debug("lease state transition", "host_id", c.hostID, "lease", token, "from", from.String(), "to", to.String())

	hook := c.hooks.OnLeaseStateChanged
	c.fire(func(hctx context.Context) error {
		return hook(hctx, token, from, to)
	}, "lease state hook error")
}

// transitionState validates and applies a controller state transition.
func (c *Controller) transitionState(from, to State) {
	if !isValidTransition(from, to) {
		c.logger.Error("invalid state transition attempted",
			"from", from.String(),
			"to", to.String(),
		)

		return
	}

	c.state.Store(int32(to)) //nolint:gosec // State values are controlled enum

	c.logger.Info("state transition",
		"from", from.String(),
		"to", to.String(),
		"host_id", c.hostID,
	)
}

// isValidTransition validates that a controller state transition is allowed.
func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateInit:     {StateStarting, StateStopped},
		StateStarting: {StateRunning, StateStopped},
		StateRunning:  {StateStopping},
		StateStopping: {StateStopped},
		StateStopped:  {}, // Terminal state - no transitions allowed
	}

	return slices.Contains(validTransitions[from], to)
}

// report hands a health record to the dispatcher.
func (c *Controller) report(ctx context.Context, severity Severity, op Operation, lease Lease, err error) {
	rec := HealthRecord{
		Severity:  severity,
		Operation: op,
		Lease:     lease,
		Err:       err,
		HostID:    c.hostID,
		Timestamp: c.now(),
	}
	if herr := c.health.Inspect(context.WithoutCancel(ctx), rec); herr != nil {
		c.logger.Warn("health monitor failed", "host_id", c.hostID, "error", herr)
	}
}

// fireLease runs a lease hook in the background.
func (c *Controller) fireLease(hook func(context.Context, Lease) error, lease Lease) {
	c.fire(func(ctx context.Context) error {
		return hook(ctx, lease)
	}, "lease hook error")
}

func (c *Controller) fireError(err error) {
	hook := c.hooks.OnError
	c.fire(func(ctx context.Context) error {
		return hook(ctx, err)
	}, "error hook error")
}

// fire runs a hook in a background goroutine to avoid blocking the control loop.
func (c *Controller) fire(fn func(context.Context) error, msg string) {
	go func() {
		if err := fn(c.procCtx); err != nil {
			c.logger.Error(msg, "host_id", c.hostID, "error", err)
		}
	}()
}

// shutdownInternals releases resources owned by the controller itself.
func (c *Controller) shutdownInternals(ctx context.Context) {
	if err := c.health.Close(ctx); err != nil {
		c.logger.Warn("health dispatcher did not drain", "host_id", c.hostID, "error", err)
	}
	c.procCancel()
	c.cancel()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsLeaseLost(err):
		return "conflict"
	case IsLeaseNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

// IsLeaseLost reports whether err means another host changed the lease.
func IsLeaseLost(err error) bool {
	return types.IsLeaseLost(err)
}

// IsLeaseNotFound reports whether err means the lease was deleted.
func IsLeaseNotFound(err error) bool {
	return types.IsLeaseNotFound(err)
}
