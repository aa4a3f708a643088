// Package types provides core type definitions and interfaces for the leasefeed library.
//
// This package contains shared types that are used across multiple packages in the
// leasefeed library. By keeping these types in a separate package, we avoid import cycles
// between the root leasefeed package, the store and feed adapters, and the internal
// processor implementation.
//
// Key types:
//   - Lease: Exclusive, time-bounded ownership of one feed partition
//   - LeaseStore: Shared lease persistence with compare-and-swap writes
//   - ChangeFeed: Ordered, partitioned source of changes
//   - Observer: Application callback receiving batches of changes
//   - LoadBalancingStrategy: Pure function deciding which leases to acquire or release
//   - HealthMonitor: One-way sink for operational health records
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
