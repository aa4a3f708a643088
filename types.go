package leasefeed

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/internal/metrics"
	"github.com/arloliu/leasefeed/types"
)

// Re-export types from the internal types package.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the `types`
// subpackage, which lets internal packages depend on `types` without
// depending on the root `leasefeed` package, while users still write
// `leasefeed.Lease`, `leasefeed.Observer`, etc.
type (
	Lease           = types.Lease
	Change          = types.Change
	Batch           = types.Batch
	ObserverContext = types.ObserverContext
	CloseReason     = types.CloseReason
	State           = types.State
	LeaseState      = types.LeaseState
	HealthRecord    = types.HealthRecord
	Severity        = types.Severity
	Operation       = types.Operation
	BalanceInput    = types.BalanceInput
	BalanceDecision = types.BalanceDecision
	ObserverFunc    = types.ObserverFunc
)

// Re-export interfaces from the internal types package for convenience.
type (
	LeaseStore            = types.LeaseStore
	PresenceRegistry      = types.PresenceRegistry
	ChangeFeed            = types.ChangeFeed
	PartitionSource       = types.PartitionSource
	Observer              = types.Observer
	ObserverLifecycle     = types.ObserverLifecycle
	LoadBalancingStrategy = types.LoadBalancingStrategy
	HealthMonitor         = types.HealthMonitor
	MetricsCollector      = types.MetricsCollector
	Logger                = types.Logger
	Hooks                 = types.Hooks
)

// Re-export State constants from the internal types package.
const (
	StateInit     = types.StateInit
	StateStarting = types.StateStarting
	StateRunning  = types.StateRunning
	StateStopping = types.StateStopping
	StateStopped  = types.StateStopped
)

// Re-export LeaseState constants from the internal types package.
const (
	LeaseUnowned      = types.LeaseUnowned
	LeaseAcquiring    = types.LeaseAcquiring
	LeaseOwnedRunning = types.LeaseOwnedRunning
	LeaseReleasing    = types.LeaseReleasing
	LeaseReleased     = types.LeaseReleased
	LeaseExpired      = types.LeaseExpired
)

// Re-export Severity constants from the internal types package.
const (
	SeverityInformational = types.SeverityInformational
	SeverityError         = types.SeverityError
	SeverityCritical      = types.SeverityCritical
)

// NewSlogLogger adapts a *slog.Logger to the Logger interface.
// A nil logger uses slog.Default().
//
// Example:
//
//	logger := leasefeed.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
//	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed, obs, leasefeed.WithLogger(logger))
func NewSlogLogger(logger *slog.Logger) Logger {
	return logging.NewSlog(logger)
}

// NewPrometheusMetrics creates a MetricsCollector registering its collectors
// on reg under namespace ("leasefeed" when empty).
//
// Example:
//
//	m := leasefeed.NewPrometheusMetrics(prometheus.DefaultRegisterer, "")
//	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed, obs, leasefeed.WithMetrics(m))
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) MetricsCollector {
	return metrics.NewPrometheus(reg, namespace)
}
