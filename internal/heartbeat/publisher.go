package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/internal/metrics"
	"github.com/arloliu/leasefeed/types"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoHostID       = errors.New("host ID not set")
)

// Publisher publishes periodic presence heartbeats for one host.
type Publisher struct {
	registry types.PresenceRegistry
	hostID   string
	interval time.Duration
	ttl      time.Duration
	timeout  time.Duration
	metrics  types.MetricsCollector
	logger   types.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new heartbeat publisher.
//
// The ttl should be at least 2x the interval so one missed heartbeat does not
// remove the host.
//
// Parameters:
//   - registry: Presence registry receiving heartbeats
//   - hostID: Host identity
//   - interval: Heartbeat interval
//   - ttl: Presence TTL passed on every heartbeat
//
// Returns:
//   - *Publisher: New heartbeat publisher instance
func New(registry types.PresenceRegistry, hostID string, interval, ttl time.Duration) *Publisher {
	return &Publisher{
		registry: registry,
		hostID:   hostID,
		interval: interval,
		ttl:      ttl,
		timeout:  interval,
		metrics:  metrics.NewNop(),
		logger:   logging.NewNop(),
	}
}

// SetMetrics sets the metrics collector for heartbeat events.
func (p *Publisher) SetMetrics(m types.MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m != nil {
		p.metrics = m
	}
}

// SetLogger sets the logger used for heartbeat failures.
func (p *Publisher) SetLogger(l types.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l != nil {
		p.logger = l
	}
}

// Start begins publishing heartbeats in the background.
//
// Publishes the first heartbeat immediately, then at regular intervals until
// Stop is called. Background heartbeats are independent of ctx.
//
// Parameters:
//   - ctx: Context for the initial heartbeat
//
// Returns:
//   - error: ErrAlreadyStarted if already running, ErrNoHostID if the host ID is empty,
//     or the initial heartbeat error
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.hostID == "" {
		return ErrNoHostID
	}

	if err := p.publish(ctx); err != nil {
		p.metrics.RecordHeartbeat(p.hostID, false)
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}
	p.metrics.RecordHeartbeat(p.hostID, true)

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.publishLoop(p.stopCh, p.doneCh)

	return nil
}

// Stop stops the publisher and deregisters the host.
//
// Blocks until the publisher goroutine exits. Deregistering signals the
// shutdown immediately instead of waiting for the TTL.
//
// Returns:
//   - error: ErrNotStarted if not running, or the deregistration error
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	close(p.stopCh)
	p.started = false
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh

	if err := p.registry.Deregister(ctx, p.hostID); err != nil {
		return fmt.Errorf("stopped but failed to deregister host %s: %w", p.hostID, err)
	}

	return nil
}

func (p *Publisher) publishLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			err := p.publish(ctx)
			cancel()

			p.mu.Lock()
			m, l := p.metrics, p.logger
			p.mu.Unlock()

			m.RecordHeartbeat(p.hostID, err == nil)
			if err != nil {
				l.Warn("presence heartbeat failed", "host", p.hostID, "error", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	if err := p.registry.Heartbeat(ctx, p.hostID, p.ttl); err != nil {
		return fmt.Errorf("failed to publish heartbeat for %s: %w", p.hostID, err)
	}

	return nil
}

// HostID returns the host identity.
func (p *Publisher) HostID() string {
	return p.hostID
}

// IsStarted returns whether the publisher is currently running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}
