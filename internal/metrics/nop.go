// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/leasefeed/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	metrics := metrics.NewNop()
//	ctrl, err := leasefeed.NewController(&cfg, "host-a", store, feed, obs, leasefeed.WithMetrics(metrics))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ControllerMetrics implementation

// RecordControlLoop discards the control loop metric.
func (n *NopMetrics) RecordControlLoop(_ /* duration */ float64, _ /* success */ bool) {}

// RecordLeaseOperation discards the lease operation metric.
func (n *NopMetrics) RecordLeaseOperation(_ /* operation */ types.Operation, _ /* result */ string) {}

// RecordLeaseStateTransition discards the lease state transition metric.
func (n *NopMetrics) RecordLeaseStateTransition(_ /* from */, _ /* to */ types.LeaseState) {}

// RecordOwnedLeases discards the owned lease gauge.
func (n *NopMetrics) RecordOwnedLeases(_ /* count */ int) {}

// RecordActiveHosts discards the active host gauge.
func (n *NopMetrics) RecordActiveHosts(_ /* count */ int) {}

// RecordTotalLeases discards the total lease gauge.
func (n *NopMetrics) RecordTotalLeases(_ /* count */ int) {}

// ProcessorMetrics implementation

// RecordBatch discards the batch metric.
func (n *NopMetrics) RecordBatch(_ /* size */ int, _ /* duration */ float64, _ /* success */ bool) {}

// RecordCheckpoint discards the checkpoint metric.
func (n *NopMetrics) RecordCheckpoint(_ /* success */ bool) {}

// RecordFeedRead discards the feed read metric.
func (n *NopMetrics) RecordFeedRead(_ /* success */ bool) {}

// HealthMetrics implementation

// RecordHealthEvent discards the health event metric.
func (n *NopMetrics) RecordHealthEvent(_ /* severity */ types.Severity, _ /* operation */ types.Operation) {}

// RecordHealthEventDropped discards the dropped health event metric.
func (n *NopMetrics) RecordHealthEventDropped() {}

// PresenceMetrics implementation

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* hostID */ string, _ /* success */ bool) {}
