package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/leasefeed"
	"github.com/arloliu/leasefeed/feed/jsfeed"
	"github.com/arloliu/leasefeed/store/natskv"
	lftest "github.com/arloliu/leasefeed/testing"
	"github.com/arloliu/leasefeed/types"
)

// StartEmbeddedNATS starts an embedded NATS server for integration tests.
// It wraps the leasefeed/testing package function for convenience.
func StartEmbeddedNATS(t *testing.T) (*nats.Conn, func()) {
	t.Helper()
	srv, nc := lftest.StartEmbeddedNATS(t)
	cleanup := func() {
		nc.Close()
		srv.Shutdown()
		srv.WaitForShutdown()
	}

	return nc, cleanup
}

// IntegrationTestConfig provides a timing-compressed configuration for integration tests.
func IntegrationTestConfig() leasefeed.Config {
	cfg := leasefeed.Config{
		AcquireInterval:          200 * time.Millisecond, // Reduced from 13s
		LeaseExpirationInterval:  2 * time.Second,        // Reduced from 60s
		LeaseRenewInterval:       500 * time.Millisecond, // Reduced from 17s
		AcquireJitter:            50 * time.Millisecond,
		PartitionRefreshInterval: 500 * time.Millisecond,
		OperationTimeout:         2 * time.Second,
		ShutdownTimeout:          3 * time.Second,
		Processor: leasefeed.ProcessorConfig{
			BatchSize:    10,
			PollInterval: 20 * time.Millisecond,
		},
		Presence: leasefeed.PresenceConfig{
			Enabled:           true,
			HeartbeatInterval: 200 * time.Millisecond,
			TTL:               time.Second,
		},
	}
	leasefeed.SetDefaults(&cfg)

	return cfg
}

// Recorder is an observer that records every delivered change per partition.
type Recorder struct {
	mu        sync.Mutex
	delivered map[string][]string
	byHost    map[string]map[string]int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		delivered: make(map[string][]string),
		byHost:    make(map[string]map[string]int),
	}
}

// ProcessChanges implements types.Observer.
func (r *Recorder) ProcessChanges(_ context.Context, oc types.ObserverContext, changes []types.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hosts, ok := r.byHost[oc.HostID]
	if !ok {
		hosts = make(map[string]int)
		r.byHost[oc.HostID] = hosts
	}
	for _, ch := range changes {
		r.delivered[oc.PartitionToken] = append(r.delivered[oc.PartitionToken], ch.Position)
		hosts[oc.PartitionToken]++
	}

	return nil
}

// Delivered returns a copy of the delivered positions per partition.
func (r *Recorder) Delivered() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]string, len(r.delivered))
	for p, positions := range r.delivered {
		out[p] = append([]string(nil), positions...)
	}

	return out
}

// Count returns the number of changes delivered for partition.
func (r *Recorder) Count(partition string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.delivered[partition])
}

// HostCount returns how many changes hostID processed across all partitions.
func (r *Recorder) HostCount(hostID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.byHost[hostID] {
		n += c
	}

	return n
}

// Cluster manages a group of controllers sharing one NATS KV lease bucket
// and one JetStream stream.
type Cluster struct {
	Hosts    []*leasefeed.Controller
	Config   leasefeed.Config
	Stream   jetstream.Stream
	Prefix   string
	Recorder *Recorder
	JS       jetstream.JetStream
	NC       *nats.Conn
	T        *testing.T

	stopped map[int]bool
}

// NewCluster creates a cluster reading stream with subjects prefix + partition.
//
// Parameters:
//   - t: testing handle
//   - nc: NATS connection
//   - streamName: Name of the stream to create
//   - prefix: Subject prefix, for example "orders."
//
// Returns:
//   - *Cluster: Cluster with no hosts yet
func NewCluster(t *testing.T, nc *nats.Conn, streamName, prefix string) *Cluster {
	t.Helper()

	return &Cluster{
		Hosts:    make([]*leasefeed.Controller, 0),
		Config:   IntegrationTestConfig(),
		Stream:   lftest.CreateStream(t, nc, streamName, prefix+">"),
		Prefix:   prefix,
		Recorder: NewRecorder(),
		JS:       lftest.JetStream(t, nc),
		NC:       nc,
		T:        t,
		stopped:  make(map[int]bool),
	}
}

// Publish appends n messages to every partition.
func (c *Cluster) Publish(ctx context.Context, partitions []string, n int) {
	c.T.Helper()

	for i := range n {
		for _, p := range partitions {
			_, err := c.JS.Publish(ctx, c.Prefix+p, fmt.Appendf(nil, "%s-%d", p, i))
			require.NoError(c.T, err)
		}
	}
}

// AddHost adds a controller with its own store handle on the shared bucket.
//
// Optional controller options are appended after the cluster defaults, so a
// test can override the strategy or pass a debug logger:
//
//	cluster.AddHost(ctx, "host-a", leasefeed.WithLogger(lftest.NewTestLogger(t)))
//
// Parameters:
//   - ctx: Context for store setup
//   - hostID: Host identity
//   - opts: Optional controller options
//
// Returns:
//   - *leasefeed.Controller: The created controller, not started
func (c *Cluster) AddHost(ctx context.Context, hostID string, opts ...leasefeed.Option) *leasefeed.Controller {
	store, err := natskv.New(ctx, c.JS, natskv.WithMemoryStorage())
	require.NoError(c.T, err, "failed to open store for %s", hostID)

	feed := jsfeed.New(c.Stream, jsfeed.WithSubjectPrefix(c.Prefix))
	hostOpts := append([]leasefeed.Option{leasefeed.WithPartitionSource(feed)}, opts...)

	ctrl, err := leasefeed.NewController(&c.Config, hostID, store, feed, c.Recorder, hostOpts...)
	require.NoError(c.T, err, "failed to create host %s", hostID)

	c.Hosts = append(c.Hosts, ctrl)

	return ctrl
}

// StartHosts starts all hosts in the cluster.
func (c *Cluster) StartHosts(ctx context.Context) {
	for i, ctrl := range c.Hosts {
		err := ctrl.Start(ctx)
		require.NoError(c.T, err, "host %d failed to start", i)
	}
}

// StopHost stops one host gracefully. It stays in Hosts to keep indexes stable.
func (c *Cluster) StopHost(index int) {
	require.Less(c.T, index, len(c.Hosts), "invalid host index")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(c.T, c.Hosts[index].Stop(stopCtx), "failed to stop host %d", index)
	c.stopped[index] = true
	c.T.Logf("Stopped host %d (%s)", index, c.Hosts[index].HostID())
}

// StopHosts stops every host still running. Stop errors are logged, not fatal.
func (c *Cluster) StopHosts() {
	for i, ctrl := range c.Hosts {
		if c.stopped[i] || ctrl.State() != types.StateRunning {
			continue
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ctrl.Stop(stopCtx); err != nil {
			c.T.Logf("Host %d stop error (non-fatal): %v", i, err)
		}
		cancel()
		c.stopped[i] = true
	}
}

// ActiveHosts returns the hosts that have not been stopped.
func (c *Cluster) ActiveHosts() []*leasefeed.Controller {
	active := make([]*leasefeed.Controller, 0, len(c.Hosts))
	for i, ctrl := range c.Hosts {
		if !c.stopped[i] {
			active = append(active, ctrl)
		}
	}

	return active
}

// Owned returns the leases each active host currently owns.
func (c *Cluster) Owned() map[string][]types.Lease {
	owned := make(map[string][]types.Lease)
	for _, ctrl := range c.ActiveHosts() {
		owned[ctrl.HostID()] = ctrl.OwnedLeases()
	}

	return owned
}

// WaitForBalance waits until the active hosts own total leases between them,
// each host within one lease of an even share.
func (c *Cluster) WaitForBalance(total int, timeout time.Duration) {
	active := len(c.ActiveHosts())
	require.Positive(c.T, active, "no active hosts")

	low := total / active
	high := low
	if total%active != 0 {
		high++
	}

	require.Eventually(c.T, func() bool {
		sum := 0
		for host, leases := range c.Owned() {
			if len(leases) < low || len(leases) > high {
				c.T.Logf("Host %s owns %d leases, want %d..%d", host, len(leases), low, high)
				return false
			}
			sum += len(leases)
		}

		return sum == total
	}, timeout, 100*time.Millisecond, "hosts did not reach a balanced lease split")
}
