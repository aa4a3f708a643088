package metrics

import (
	"sync"

	"github.com/arloliu/leasefeed/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use so that
// constructing an unused collector has no registry side effects.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	// Controller metrics
	controlLoopDuration *prometheus.HistogramVec
	leaseOperations     *prometheus.CounterVec
	leaseTransitions    *prometheus.CounterVec
	ownedLeases         prometheus.Gauge
	activeHosts         prometheus.Gauge
	totalLeases         prometheus.Gauge

	// Processor metrics
	batchSize       prometheus.Histogram
	observerLatency *prometheus.HistogramVec
	checkpoints     *prometheus.CounterVec
	feedReads       *prometheus.CounterVec

	// Health metrics
	healthEvents  *prometheus.CounterVec
	healthDropped prometheus.Counter

	// Presence metrics
	heartbeats *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "leasefeed" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "leasefeed"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.controlLoopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "control_loop_duration_seconds",
			Help:      "Duration of control-loop ticks by result.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}, []string{"result"})
		p.leaseOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "lease_operations_total",
			Help:      "Lease store calls by operation and result (success,conflict,not_found,error).",
		}, []string{"operation", "result"})
		p.leaseTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "lease_state_transitions_total",
			Help:      "Per-lease state transitions observed by this host.",
		}, []string{"from", "to"})
		p.ownedLeases = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "owned_leases",
			Help:      "Number of leases this host currently processes.",
		})
		p.activeHosts = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "active_hosts",
			Help:      "Number of active hosts counted by the last balance.",
		})
		p.totalLeases = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "leases",
			Help:      "Number of leases in the last snapshot.",
		})

		p.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "batch_size",
			Help:      "Number of changes delivered per observer call.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11), // 1 .. 1024
		})
		p.observerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "observer_duration_seconds",
			Help:      "Observer call latency by result.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"result"})
		p.checkpoints = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "checkpoints_total",
			Help:      "Checkpoint writes by result.",
		}, []string{"result"})
		p.feedReads = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "feed_reads_total",
			Help:      "Change feed reads by result.",
		}, []string{"result"})

		p.healthEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "health",
			Name:      "events_total",
			Help:      "Health records by severity and operation.",
		}, []string{"severity", "operation"})
		p.healthDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "health",
			Name:      "events_dropped_total",
			Help:      "Health records dropped because the sink buffer was full.",
		})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "presence",
			Name:      "heartbeats_total",
			Help:      "Presence heartbeats published by this host by result.",
		}, []string{"result"})

		p.reg.MustRegister(
			p.controlLoopDuration,
			p.leaseOperations,
			p.leaseTransitions,
			p.ownedLeases,
			p.activeHosts,
			p.totalLeases,
			p.batchSize,
			p.observerLatency,
			p.checkpoints,
			p.feedReads,
			p.healthEvents,
			p.healthDropped,
			p.heartbeats,
		)
	})
}

// RecordControlLoop observes the duration of one control-loop tick.
func (p *PrometheusCollector) RecordControlLoop(duration float64, success bool) {
	p.ensureRegistered()
	p.controlLoopDuration.WithLabelValues(resultLabel(success)).Observe(duration)
}

// RecordLeaseOperation counts a lease store call.
func (p *PrometheusCollector) RecordLeaseOperation(operation types.Operation, result string) {
	p.ensureRegistered()
	p.leaseOperations.WithLabelValues(string(operation), result).Inc()
}

// RecordLeaseStateTransition counts a per-lease state transition.
func (p *PrometheusCollector) RecordLeaseStateTransition(from, to types.LeaseState) {
	p.ensureRegistered()
	p.leaseTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordOwnedLeases sets the owned lease gauge.
func (p *PrometheusCollector) RecordOwnedLeases(count int) {
	p.ensureRegistered()
	p.ownedLeases.Set(float64(count))
}

// RecordActiveHosts sets the active host gauge.
func (p *PrometheusCollector) RecordActiveHosts(count int) {
	p.ensureRegistered()
	p.activeHosts.Set(float64(count))
}

// RecordTotalLeases sets the lease snapshot size gauge.
func (p *PrometheusCollector) RecordTotalLeases(count int) {
	p.ensureRegistered()
	p.totalLeases.Set(float64(count))
}

// RecordBatch observes batch size and observer latency.
func (p *PrometheusCollector) RecordBatch(size int, duration float64, success bool) {
	p.ensureRegistered()
	p.batchSize.Observe(float64(size))
	p.observerLatency.WithLabelValues(resultLabel(success)).Observe(duration)
}

// RecordCheckpoint counts a checkpoint write.
func (p *PrometheusCollector) RecordCheckpoint(success bool) {
	p.ensureRegistered()
	p.checkpoints.WithLabelValues(resultLabel(success)).Inc()
}

// RecordFeedRead counts a feed read.
func (p *PrometheusCollector) RecordFeedRead(success bool) {
	p.ensureRegistered()
	p.feedReads.WithLabelValues(resultLabel(success)).Inc()
}

// RecordHealthEvent counts a health record.
func (p *PrometheusCollector) RecordHealthEvent(severity types.Severity, operation types.Operation) {
	p.ensureRegistered()
	p.healthEvents.WithLabelValues(severity.String(), string(operation)).Inc()
}

// RecordHealthEventDropped counts a dropped health record.
func (p *PrometheusCollector) RecordHealthEventDropped() {
	p.ensureRegistered()
	p.healthDropped.Inc()
}

// RecordHeartbeat counts a presence heartbeat.
//
// The host ID is not used as a label; every host exports its own series.
func (p *PrometheusCollector) RecordHeartbeat(_ /* hostID */ string, success bool) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(resultLabel(success)).Inc()
}
