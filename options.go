package leasefeed

import "time"

// Option configures a Controller with optional dependencies.
type Option func(*controllerOptions)

// controllerOptions holds optional Controller configuration.
type controllerOptions struct {
	logger   Logger
	metrics  MetricsCollector
	hooks    *Hooks
	health   HealthMonitor
	strategy LoadBalancingStrategy
	source   PartitionSource
	presence PresenceRegistry
	now      func() time.Time
	rngSeed  int64
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (see NewSlogLogger)
//
// Returns:
//   - Option: Functional option for NewController
//
// Example:
//
//	logger := leasefeed.NewSlogLogger(slog.Default())
//	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed, obs, leasefeed.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *controllerOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation (see NewPrometheusMetrics)
//
// Returns:
//   - Option: Functional option for NewController
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *controllerOptions) {
		o.metrics = metrics
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions; nil callbacks are skipped
//
// Returns:
//   - Option: Functional option for NewController
//
// Example:
//
//	hooks := &leasefeed.Hooks{
//	    OnLeaseLost: func(ctx context.Context, lease leasefeed.Lease) error {
//	        alert("lost " + lease.LeaseToken)
//	        return nil
//	    },
//	}
//	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed, obs, leasefeed.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *controllerOptions) {
		o.hooks = hooks
	}
}

// WithHealthMonitor sets the sink receiving health records.
//
// Records are delivered asynchronously through a bounded queue
// (Config.Health.BufferSize); the monitor never blocks the control loop.
// Defaults to a monitor logging through the configured logger.
//
// Parameters:
//   - monitor: HealthMonitor implementation (see package health)
//
// Returns:
//   - Option: Functional option for NewController
func WithHealthMonitor(monitor HealthMonitor) Option {
	return func(o *controllerOptions) {
		o.health = monitor
	}
}

// WithStrategy sets the load balancing strategy.
//
// Every host of a deployment must use the same strategy and strategy options.
// Defaults to strategy.NewEqualShare().
//
// Parameters:
//   - strategy: LoadBalancingStrategy implementation
//
// Returns:
//   - Option: Functional option for NewController
//
// Example:
//
//	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed, obs,
//	    leasefeed.WithStrategy(strategy.NewConsistentHash()))
func WithStrategy(strategy LoadBalancingStrategy) Option {
	return func(o *controllerOptions) {
		o.strategy = strategy
	}
}

// WithPartitionSource enables partition sync.
//
// Every Config.PartitionRefreshInterval, and on RefreshPartitions, the
// controller creates a lease for every new partition and deletes the leases
// of partitions that disappeared. Without a source the lease collection is
// managed externally.
//
// Parameters:
//   - source: PartitionSource implementation
//
// Returns:
//   - Option: Functional option for NewController
func WithPartitionSource(source PartitionSource) Option {
	return func(o *controllerOptions) {
		o.source = source
	}
}

// WithPresence sets the presence registry used for heartbeats.
//
// Defaults to the lease store when it implements PresenceRegistry.
//
// Parameters:
//   - registry: PresenceRegistry implementation
//
// Returns:
//   - Option: Functional option for NewController
func WithPresence(registry PresenceRegistry) Option {
	return func(o *controllerOptions) {
		o.presence = registry
	}
}

// WithClock sets the time source used to judge lease expiration.
//
// It must agree with the clock the lease store stamps timestamps with.
//
// Parameters:
//   - now: Function returning the current time
//
// Returns:
//   - Option: Functional option for NewController
func WithClock(now func() time.Time) Option {
	return func(o *controllerOptions) {
		o.now = now
	}
}

// WithJitterSeed makes acquire and tick jitter deterministic. Intended for tests.
func WithJitterSeed(seed int64) Option {
	return func(o *controllerOptions) {
		o.rngSeed = seed
	}
}
