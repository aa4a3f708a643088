package leasefeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/leasefeed/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 13*time.Second, cfg.AcquireInterval)
	require.Equal(t, 60*time.Second, cfg.LeaseExpirationInterval)
	require.Equal(t, 17*time.Second, cfg.LeaseRenewInterval)
	require.Equal(t, time.Second, cfg.AcquireJitter)
	require.Equal(t, time.Minute, cfg.PartitionRefreshInterval)
	require.Equal(t, 10*time.Second, cfg.OperationTimeout)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, 100, cfg.Processor.BatchSize)
	require.Equal(t, 5*time.Second, cfg.Processor.PollInterval)
	require.Equal(t, 1, cfg.Processor.Checkpoint.EveryBatches)
	require.Zero(t, cfg.Processor.Checkpoint.Interval)
	require.False(t, cfg.Processor.FailFastOnObserverError)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.True(t, cfg.Presence.Enabled)
	require.Equal(t, 6*time.Second, cfg.Presence.TTL)
	require.Equal(t, 256, cfg.Health.BufferSize)

	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, 13*time.Second, cfg.AcquireInterval)
		require.Equal(t, 60*time.Second, cfg.LeaseExpirationInterval)
		require.Equal(t, 100, cfg.Processor.BatchSize)
		require.Equal(t, 1, cfg.Processor.Checkpoint.EveryBatches)
		require.Equal(t, 2.0, cfg.Retry.Multiplier)
		require.Equal(t, 6*time.Second, cfg.Presence.TTL)
		require.Zero(t, cfg.AcquireJitter, "zero jitter is a valid choice")
		require.False(t, cfg.Presence.Enabled, "booleans keep their zero value")
		require.NoError(t, cfg.Validate())
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			AcquireInterval:         time.Second,
			LeaseExpirationInterval: 9 * time.Second,
			LeaseRenewInterval:      3 * time.Second,
			Processor: ProcessorConfig{
				BatchSize:  7,
				Checkpoint: CheckpointConfig{Interval: 5 * time.Second},
			},
			Presence: PresenceConfig{HeartbeatInterval: time.Second},
		}
		SetDefaults(&cfg)

		require.Equal(t, time.Second, cfg.AcquireInterval)
		require.Equal(t, 9*time.Second, cfg.LeaseExpirationInterval)
		require.Equal(t, 3*time.Second, cfg.LeaseRenewInterval)
		require.Equal(t, 7, cfg.Processor.BatchSize)
		require.Zero(t, cfg.Processor.Checkpoint.EveryBatches, "interval trigger alone is enough")
		require.Equal(t, 5*time.Second, cfg.Processor.Checkpoint.Interval)
		require.Equal(t, 3*time.Second, cfg.Presence.TTL, "TTL derives from the heartbeat interval")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"test config", func(cfg *Config) { *cfg = TestConfig() }, false},
		{"zero acquire interval", func(cfg *Config) { cfg.AcquireInterval = 0 }, true},
		{"negative jitter", func(cfg *Config) { cfg.AcquireJitter = -time.Second }, true},
		{"zero jitter", func(cfg *Config) { cfg.AcquireJitter = 0 }, false},
		{"renew exactly half of expiration", func(cfg *Config) { cfg.LeaseRenewInterval = 30 * time.Second }, false},
		{"renew above half of expiration", func(cfg *Config) { cfg.LeaseRenewInterval = 31 * time.Second }, true},
		{"acquire not below expiration", func(cfg *Config) { cfg.AcquireInterval = time.Minute }, true},
		{"zero batch size", func(cfg *Config) { cfg.Processor.BatchSize = 0 }, true},
		{"no checkpoint trigger", func(cfg *Config) { cfg.Processor.Checkpoint = CheckpointConfig{} }, true},
		{"negative checkpoint interval", func(cfg *Config) { cfg.Processor.Checkpoint.Interval = -time.Second }, true},
		{"zero attempts", func(cfg *Config) { cfg.Retry.MaxAttempts = 0 }, true},
		{"shrinking backoff", func(cfg *Config) { cfg.Retry.Multiplier = 0.5 }, true},
		{"presence ttl too short", func(cfg *Config) { cfg.Presence.TTL = 3 * time.Second }, true},
		{"presence ttl ignored when disabled", func(cfg *Config) {
			cfg.Presence.Enabled = false
			cfg.Presence.TTL = time.Second
		}, false},
		{"negative health buffer", func(cfg *Config) { cfg.Health.BufferSize = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LeaseRenewInterval = 25 * time.Second
	cfg.Processor.FailFastOnObserverError = true
	cfg.Processor.SkipFailedBatches = true

	require.NotPanics(t, func() {
		cfg.ValidateWithWarnings(logging.NewTest(t))
	})
}

// TestConfig_YAML demonstrates that time.Duration works directly with YAML unmarshaling
func TestConfig_YAML(t *testing.T) {
	yamlConfig := `
acquireInterval: 5s
leaseExpirationInterval: 1m
leaseRenewInterval: 20s
acquireJitter: 500ms
operationTimeout: 3s
processor:
  batchSize: 50
  pollInterval: 250ms
  checkpoint:
    everyBatches: 10
    interval: 2s
  failFastOnObserverError: true
retry:
  maxAttempts: 5
  multiplier: 1.5
presence:
  enabled: false
`

	var cfg Config
	err := yaml.Unmarshal([]byte(yamlConfig), &cfg)
	require.NoError(t, err)

	require.Equal(t, 5*time.Second, cfg.AcquireInterval)
	require.Equal(t, time.Minute, cfg.LeaseExpirationInterval)
	require.Equal(t, 20*time.Second, cfg.LeaseRenewInterval)
	require.Equal(t, 500*time.Millisecond, cfg.AcquireJitter)
	require.Equal(t, 3*time.Second, cfg.OperationTimeout)
	require.Equal(t, 50, cfg.Processor.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.Processor.PollInterval)
	require.Equal(t, 10, cfg.Processor.Checkpoint.EveryBatches)
	require.Equal(t, 2*time.Second, cfg.Processor.Checkpoint.Interval)
	require.True(t, cfg.Processor.FailFastOnObserverError)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, 1.5, cfg.Retry.Multiplier)
	require.False(t, cfg.Presence.Enabled)
}

// TestConfig_PartialYAMLOverDefaults demonstrates decoding a partial file on
// top of DefaultConfig so unmentioned switches keep their defaults.
func TestConfig_PartialYAMLOverDefaults(t *testing.T) {
	yamlConfig := `
leaseExpirationInterval: 2m
processor:
  batchSize: 10
`

	cfg := DefaultConfig()
	err := yaml.Unmarshal([]byte(yamlConfig), &cfg)
	require.NoError(t, err)
	SetDefaults(&cfg)

	require.Equal(t, 2*time.Minute, cfg.LeaseExpirationInterval)
	require.Equal(t, 10, cfg.Processor.BatchSize)

	require.Equal(t, 13*time.Second, cfg.AcquireInterval)
	require.Equal(t, 5*time.Second, cfg.Processor.PollInterval)
	require.True(t, cfg.Presence.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestConfig_ProcessorConfig(t *testing.T) {
	cfg := TestConfig()
	cfg.Processor.SkipFailedBatches = true

	pc := cfg.processorConfig("host-a")
	require.Equal(t, "host-a", pc.HostID)
	require.Equal(t, cfg.Processor.BatchSize, pc.BatchSize)
	require.Equal(t, cfg.LeaseRenewInterval, pc.RenewInterval)
	require.Equal(t, cfg.OperationTimeout, pc.OperationTimeout)
	require.True(t, pc.SkipFailedBatches)
	require.Equal(t, cfg.Retry.MaxAttempts, pc.Retry.MaxAttempts)
	require.Equal(t, cfg.Retry.InitialBackoff, pc.Retry.Base)
}
