package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	ControllerMetrics
	ProcessorMetrics
	HealthMetrics
	PresenceMetrics
}

// ControllerMetrics defines metrics for control-loop operations.
type ControllerMetrics interface {
	// RecordControlLoop records one control-loop tick.
	//
	// Parameters:
	//   - duration: Time taken in seconds
	//   - success: false when the lease snapshot could not be read
	RecordControlLoop(duration float64, success bool)

	// RecordLeaseOperation records the outcome of a lease store call.
	//
	// Parameters:
	//   - operation: Operation name ("acquire", "renew", "checkpoint", "release", "create", "delete")
	//   - result: "success", "conflict", "not_found" or "error"
	RecordLeaseOperation(operation Operation, result string)

	// RecordLeaseStateTransition records a per-lease state transition.
	RecordLeaseStateTransition(from, to LeaseState)

	// RecordOwnedLeases sets the number of leases this host processes (gauge metric).
	RecordOwnedLeases(count int)

	// RecordActiveHosts sets the number of hosts counted by the last balance (gauge metric).
	RecordActiveHosts(count int)

	// RecordTotalLeases sets the size of the last lease snapshot (gauge metric).
	RecordTotalLeases(count int)
}

// ProcessorMetrics defines metrics for partition processors.
type ProcessorMetrics interface {
	// RecordBatch records a batch delivered to the observer.
	//
	// Parameters:
	//   - size: Number of changes in the batch
	//   - duration: Observer call time in seconds
	//   - success: true if the observer returned nil
	RecordBatch(size int, duration float64, success bool)

	// RecordCheckpoint records a checkpoint write attempt.
	RecordCheckpoint(success bool)

	// RecordFeedRead records a feed read attempt.
	RecordFeedRead(success bool)
}

// HealthMetrics defines metrics for the health pipeline.
type HealthMetrics interface {
	// RecordHealthEvent records a health record by severity and operation.
	RecordHealthEvent(severity Severity, operation Operation)

	// RecordHealthEventDropped records a record dropped because the sink was saturated.
	RecordHealthEventDropped()
}

// PresenceMetrics defines metrics for host presence heartbeats.
type PresenceMetrics interface {
	// RecordHeartbeat records a heartbeat published by this host.
	//
	// Parameters:
	//   - hostID: The ID of the host publishing the heartbeat
	//   - success: true if the heartbeat was stored, false otherwise
	RecordHeartbeat(hostID string, success bool)
}
