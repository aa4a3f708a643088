package health

import (
	"context"
	"sync"

	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/internal/metrics"
	"github.com/arloliu/leasefeed/types"
)

// DefaultBufferSize is the dispatcher queue length used when none is given.
const DefaultBufferSize = 256

// Dispatcher delivers records to a monitor from a single background goroutine.
//
// Inspect never blocks: when the queue is full the record is dropped, counted
// and logged. Records are delivered in submission order.
type Dispatcher struct {
	monitor types.HealthMonitor
	logger  types.Logger
	metrics types.MetricsCollector

	queue chan types.HealthRecord
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ types.HealthMonitor = (*Dispatcher)(nil)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for sink failures and dropped records.
func WithLogger(logger types.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the collector recording delivered and dropped records.
func WithMetrics(m types.MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher starts a dispatcher in front of monitor.
//
// Parameters:
//   - monitor: Destination sink
//   - bufferSize: Queue length (DefaultBufferSize when <= 0)
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Dispatcher: Running dispatcher; call Close to drain and stop it
func NewDispatcher(monitor types.HealthMonitor, bufferSize int, opts ...DispatcherOption) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if monitor == nil {
		monitor = Nop{}
	}

	d := &Dispatcher{
		monitor: monitor,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		queue:   make(chan types.HealthRecord, bufferSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()

	return d
}

// Inspect enqueues the record without blocking.
//
// Records submitted after Close are dropped silently.
func (d *Dispatcher) Inspect(_ context.Context, rec types.HealthRecord) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil
	}

	d.metrics.RecordHealthEvent(rec.Severity, rec.Operation)

	select {
	case d.queue <- rec:
	default:
		d.metrics.RecordHealthEventDropped()
		d.logger.Warn("health record dropped, sink saturated",
			"severity", rec.Severity.String(),
			"operation", string(rec.Operation),
			"lease", rec.Lease.LeaseToken,
		)
	}

	return nil
}

// Close stops accepting records and waits until queued records are delivered
// or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for rec := range d.queue {
		if err := d.monitor.Inspect(context.Background(), rec); err != nil {
			d.logger.Warn("health monitor failed", "operation", string(rec.Operation), "error", err)
		}
	}
}
