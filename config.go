package leasefeed

import (
	"fmt"
	"time"

	"github.com/arloliu/leasefeed/internal/backoff"
	"github.com/arloliu/leasefeed/internal/processor"
)

// CheckpointConfig controls how often processed positions are written to the lease.
//
// A checkpoint is written when either trigger fires, whichever comes first.
// At least one trigger must be enabled.
type CheckpointConfig struct {
	// EveryBatches checkpoints after this many successfully processed batches.
	// 0 disables the batch trigger.
	EveryBatches int `yaml:"everyBatches"`

	// Interval checkpoints when this much time passed since the last
	// checkpoint and there is unsaved progress. 0 disables the time trigger.
	Interval time.Duration `yaml:"interval"`
}

// ProcessorConfig controls the per-partition read-process-checkpoint loop.
type ProcessorConfig struct {
	// BatchSize is the maximum number of changes read per batch.
	BatchSize int `yaml:"batchSize"`

	// PollInterval is how long a processor sleeps after an empty read.
	PollInterval time.Duration `yaml:"pollInterval"`

	// Checkpoint controls checkpoint frequency.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// FailFastOnObserverError stops the processor and releases the lease when
	// the observer fails. When false, the failed batch is retried, or skipped
	// if SkipFailedBatches is set.
	FailFastOnObserverError bool `yaml:"failFastOnObserverError"`

	// SkipFailedBatches advances past a batch the observer failed on.
	// Ignored when FailFastOnObserverError is set.
	SkipFailedBatches bool `yaml:"skipFailedBatches"`
}

// RetryConfig bounds retries of store and feed calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per call, including the first.
	MaxAttempts int `yaml:"maxAttempts"`

	// InitialBackoff is the first and minimum retry delay.
	InitialBackoff time.Duration `yaml:"initialBackoff"`

	// MaxBackoff caps every retry delay.
	MaxBackoff time.Duration `yaml:"maxBackoff"`

	// Multiplier is the delay growth factor.
	Multiplier float64 `yaml:"multiplier"`
}

// PresenceConfig controls presence heartbeats.
//
// Presence lets a host that owns no lease yet count as active for balancing.
// It requires a lease store implementing types.PresenceRegistry, or a registry
// passed with WithPresence.
type PresenceConfig struct {
	// Enabled turns presence heartbeats on.
	Enabled bool `yaml:"enabled"`

	// HeartbeatInterval is how often this host refreshes its presence entry.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// TTL is how long a presence entry stays valid without refresh.
	// Must be >= 2*HeartbeatInterval.
	TTL time.Duration `yaml:"ttl"`
}

// HealthConfig controls the asynchronous health record dispatcher.
type HealthConfig struct {
	// BufferSize is the dispatcher queue length. Records are dropped when it is full.
	BufferSize int `yaml:"bufferSize"`
}

// Config is the configuration for the Controller.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
//
// Timing relationships:
//
//	LeaseRenewInterval * 2 <= LeaseExpirationInterval   (one missed renew is survivable)
//	AcquireInterval        <  LeaseExpirationInterval   (expired leases are noticed in time)
//	Presence.TTL           >= 2 * Presence.HeartbeatInterval
type Config struct {
	// AcquireInterval is the control-loop period.
	AcquireInterval time.Duration `yaml:"acquireInterval"`

	// LeaseExpirationInterval is how long a lease stays owned without a write.
	// After it elapses any host may take the lease over.
	LeaseExpirationInterval time.Duration `yaml:"leaseExpirationInterval"`

	// LeaseRenewInterval is how often a processor refreshes its lease.
	LeaseRenewInterval time.Duration `yaml:"leaseRenewInterval"`

	// AcquireJitter is the upper bound of the random delay before each
	// acquire attempt and added to each control-loop sleep.
	AcquireJitter time.Duration `yaml:"acquireJitter"`

	// PartitionRefreshInterval is how often the partition source is synced
	// with the lease store. Only used with WithPartitionSource.
	PartitionRefreshInterval time.Duration `yaml:"partitionRefreshInterval"`

	// OperationTimeout bounds each lease store and feed call.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout bounds how long a processor may take to stop on
	// release or shutdown before it is aborted and its lease abandoned to
	// expiration.
	//
	// Controller shutdown stops all processors in parallel. Rebalance
	// handoffs and leases of vanished partitions are released one after
	// another on the control loop, so a hung observer delays the tick by up
	// to ShutdownTimeout for each lease released in it.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Processor controls the per-partition loop.
	Processor ProcessorConfig `yaml:"processor"`

	// Retry bounds retries of store and feed calls.
	Retry RetryConfig `yaml:"retry"`

	// Presence controls presence heartbeats.
	Presence PresenceConfig `yaml:"presence"`

	// Health controls the health record dispatcher.
	Health HealthConfig `yaml:"health"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		AcquireInterval:          13 * time.Second,
		LeaseExpirationInterval:  60 * time.Second,
		LeaseRenewInterval:       17 * time.Second,
		AcquireJitter:            time.Second,
		PartitionRefreshInterval: time.Minute,
		OperationTimeout:         10 * time.Second,
		ShutdownTimeout:          10 * time.Second,
		Processor: ProcessorConfig{
			BatchSize:    100,
			PollInterval: 5 * time.Second,
			Checkpoint: CheckpointConfig{
				EveryBatches: 1,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
		},
		Presence: PresenceConfig{
			Enabled:           true,
			HeartbeatInterval: 2 * time.Second,
			TTL:               6 * time.Second,
		},
		Health: HealthConfig{
			BufferSize: 256,
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Boolean switches, AcquireJitter and the checkpoint interval are left
// untouched since their zero value is meaningful. When both checkpoint
// triggers are zero the batch trigger is enabled.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.AcquireInterval == 0 {
		cfg.AcquireInterval = defaults.AcquireInterval
	}
	if cfg.LeaseExpirationInterval == 0 {
		cfg.LeaseExpirationInterval = defaults.LeaseExpirationInterval
	}
	if cfg.LeaseRenewInterval == 0 {
		cfg.LeaseRenewInterval = defaults.LeaseRenewInterval
	}
	if cfg.PartitionRefreshInterval == 0 {
		cfg.PartitionRefreshInterval = defaults.PartitionRefreshInterval
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Processor.BatchSize == 0 {
		cfg.Processor.BatchSize = defaults.Processor.BatchSize
	}
	if cfg.Processor.PollInterval == 0 {
		cfg.Processor.PollInterval = defaults.Processor.PollInterval
	}
	if cfg.Processor.Checkpoint.EveryBatches == 0 && cfg.Processor.Checkpoint.Interval == 0 {
		cfg.Processor.Checkpoint.EveryBatches = defaults.Processor.Checkpoint.EveryBatches
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = defaults.Retry.InitialBackoff
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = defaults.Retry.MaxBackoff
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = defaults.Retry.Multiplier
	}
	if cfg.Presence.HeartbeatInterval == 0 {
		cfg.Presence.HeartbeatInterval = defaults.Presence.HeartbeatInterval
	}
	if cfg.Presence.TTL == 0 {
		cfg.Presence.TTL = 3 * cfg.Presence.HeartbeatInterval
	}
	if cfg.Health.BufferSize == 0 {
		cfg.Health.BufferSize = defaults.Health.BufferSize
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - All intervals and timeouts > 0
//   - LeaseRenewInterval * 2 <= LeaseExpirationInterval
//   - AcquireInterval < LeaseExpirationInterval
//   - Processor.BatchSize > 0
//   - At least one checkpoint trigger enabled, none negative
//   - Retry.MaxAttempts >= 1, Retry.Multiplier >= 1
//   - Presence.TTL >= 2 * Presence.HeartbeatInterval (when enabled)
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	positive := []struct {
		name string
		val  time.Duration
	}{
		{"AcquireInterval", cfg.AcquireInterval},
		{"LeaseExpirationInterval", cfg.LeaseExpirationInterval},
		{"LeaseRenewInterval", cfg.LeaseRenewInterval},
		{"PartitionRefreshInterval", cfg.PartitionRefreshInterval},
		{"OperationTimeout", cfg.OperationTimeout},
		{"ShutdownTimeout", cfg.ShutdownTimeout},
		{"Processor.PollInterval", cfg.Processor.PollInterval},
		{"Retry.InitialBackoff", cfg.Retry.InitialBackoff},
		{"Retry.MaxBackoff", cfg.Retry.MaxBackoff},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidConfig, p.name, p.val)
		}
	}

	if cfg.AcquireJitter < 0 {
		return fmt.Errorf("%w: AcquireJitter must be >= 0, got %v", ErrInvalidConfig, cfg.AcquireJitter)
	}

	// Rule 1: a single missed renew must not expire the lease
	if 2*cfg.LeaseRenewInterval > cfg.LeaseExpirationInterval {
		return fmt.Errorf(
			"%w: LeaseRenewInterval (%v) * 2 must be <= LeaseExpirationInterval (%v)",
			ErrInvalidConfig, cfg.LeaseRenewInterval, cfg.LeaseExpirationInterval,
		)
	}

	// Rule 2: expired leases must be noticed within one expiration interval
	if cfg.AcquireInterval >= cfg.LeaseExpirationInterval {
		return fmt.Errorf(
			"%w: AcquireInterval (%v) must be < LeaseExpirationInterval (%v)",
			ErrInvalidConfig, cfg.AcquireInterval, cfg.LeaseExpirationInterval,
		)
	}

	// Rule 3: processor
	if cfg.Processor.BatchSize <= 0 {
		return fmt.Errorf("%w: Processor.BatchSize must be > 0, got %d", ErrInvalidConfig, cfg.Processor.BatchSize)
	}
	cp := cfg.Processor.Checkpoint
	if cp.EveryBatches < 0 || cp.Interval < 0 {
		return fmt.Errorf("%w: checkpoint triggers must not be negative", ErrInvalidConfig)
	}
	if cp.EveryBatches == 0 && cp.Interval == 0 {
		return fmt.Errorf("%w: at least one of Checkpoint.EveryBatches or Checkpoint.Interval must be set", ErrInvalidConfig)
	}

	// Rule 4: retry
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: Retry.MaxAttempts must be >= 1, got %d", ErrInvalidConfig, cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("%w: Retry.Multiplier must be >= 1, got %v", ErrInvalidConfig, cfg.Retry.Multiplier)
	}

	// Rule 5: presence allows one missed heartbeat
	if cfg.Presence.Enabled && cfg.Presence.TTL < 2*cfg.Presence.HeartbeatInterval {
		return fmt.Errorf(
			"%w: Presence.TTL (%v) must be >= 2*Presence.HeartbeatInterval (%v) to allow one missed heartbeat",
			ErrInvalidConfig, cfg.Presence.TTL, cfg.Presence.HeartbeatInterval,
		)
	}

	if cfg.Health.BufferSize < 0 {
		return fmt.Errorf("%w: Health.BufferSize must be >= 0, got %d", ErrInvalidConfig, cfg.Health.BufferSize)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() in NewController() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	// Warn if fewer than three renew attempts fit in an expiration interval
	if 3*cfg.LeaseRenewInterval > cfg.LeaseExpirationInterval {
		logger.Warn(
			"LeaseRenewInterval leaves little headroom before expiration",
			"renewInterval", cfg.LeaseRenewInterval,
			"expirationInterval", cfg.LeaseExpirationInterval,
			"recommended", cfg.LeaseExpirationInterval/3,
		)
	}

	if cfg.AcquireJitter >= cfg.AcquireInterval {
		logger.Warn(
			"AcquireJitter is not smaller than AcquireInterval, ticks may bunch up",
			"jitter", cfg.AcquireJitter,
			"acquireInterval", cfg.AcquireInterval,
		)
	}

	if cfg.ShutdownTimeout < cfg.OperationTimeout {
		logger.Warn(
			"ShutdownTimeout is shorter than OperationTimeout, final checkpoints may be abandoned",
			"shutdownTimeout", cfg.ShutdownTimeout,
			"operationTimeout", cfg.OperationTimeout,
		)
	}

	if cfg.Processor.FailFastOnObserverError && cfg.Processor.SkipFailedBatches {
		logger.Warn("SkipFailedBatches is ignored when FailFastOnObserverError is set")
	}

	if !cfg.Presence.Enabled {
		logger.Warn("presence disabled, hosts without leases will not receive a share until a lease expires")
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are 10-100x faster than production defaults. Use
// DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := leasefeed.TestConfig()
//	cfg.Processor.BatchSize = 10
//	ctrl, err := leasefeed.NewController(&cfg, "host-a", store, feed, obs)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.AcquireInterval = 50 * time.Millisecond
	cfg.LeaseExpirationInterval = time.Second
	cfg.LeaseRenewInterval = 200 * time.Millisecond
	cfg.AcquireJitter = 5 * time.Millisecond
	cfg.PartitionRefreshInterval = 100 * time.Millisecond
	cfg.OperationTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Processor.PollInterval = 10 * time.Millisecond
	cfg.Retry.InitialBackoff = 5 * time.Millisecond
	cfg.Retry.MaxBackoff = 50 * time.Millisecond
	cfg.Presence.HeartbeatInterval = 100 * time.Millisecond
	cfg.Presence.TTL = 300 * time.Millisecond

	return cfg
}

func (cfg *Config) retryPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Base:        cfg.Retry.InitialBackoff,
		Max:         cfg.Retry.MaxBackoff,
		Multiplier:  cfg.Retry.Multiplier,
	}
}

func (cfg *Config) processorConfig(hostID string) processor.Config {
	return processor.Config{
		HostID:                 hostID,
		BatchSize:              cfg.Processor.BatchSize,
		PollInterval:           cfg.Processor.PollInterval,
		CheckpointEveryBatches: cfg.Processor.Checkpoint.EveryBatches,
		CheckpointInterval:     cfg.Processor.Checkpoint.Interval,
		RenewInterval:          cfg.LeaseRenewInterval,
		OperationTimeout:       cfg.OperationTimeout,
		FailFast:               cfg.Processor.FailFastOnObserverError,
		SkipFailedBatches:      cfg.Processor.SkipFailedBatches,
		Retry:                  cfg.retryPolicy(),
	}
}
