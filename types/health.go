package types

import (
	"context"
	"time"
)

// Severity classifies a health record.
type Severity int

const (
	// SeverityInformational marks expected outcomes worth surfacing, such as lost acquire races.
	SeverityInformational Severity = iota

	// SeverityError marks a failed operation that will be retried or skipped.
	SeverityError

	// SeverityCritical marks a failure that exhausted its retry budget,
	// typically an unreachable store.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInformational:
		return "INFORMATIONAL"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Operation names the operation a health record refers to.
type Operation string

const (
	OpListLeases     Operation = "list-leases"
	OpCreateLease    Operation = "create-lease"
	OpAcquireLease   Operation = "acquire-lease"
	OpRenewLease     Operation = "renew-lease"
	OpCheckpoint     Operation = "checkpoint"
	OpReleaseLease   Operation = "release-lease"
	OpDeleteLease    Operation = "delete-lease"
	OpReadFeed       Operation = "read-feed"
	OpProcessChanges Operation = "process-changes"
	OpListPartitions Operation = "list-partitions"
	OpHeartbeat      Operation = "heartbeat"
	OpStopProcessor  Operation = "stop-processor"
)

// HealthRecord is an immutable operational event.
type HealthRecord struct {
	Severity  Severity
	Operation Operation
	Lease     Lease
	Err       error
	HostID    string
	Timestamp time.Time
}

// HealthMonitor is a one-way sink for health records.
//
// A monitor never influences scheduling. Errors it returns are logged and
// otherwise ignored. Inspect may be called concurrently from the controller
// and every processor.
type HealthMonitor interface {
	Inspect(ctx context.Context, record HealthRecord) error
}
