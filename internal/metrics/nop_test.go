package metrics

import (
	"testing"

	"github.com/arloliu/leasefeed/types"
	"github.com/stretchr/testify/require"
)

func TestNewNop(t *testing.T) {
	metrics := NewNop()

	require.NotNil(t, metrics)
	require.IsType(t, &NopMetrics{}, metrics)
}

func TestNopMetrics_DoesNotPanic(t *testing.T) {
	metrics := NewNop()

	require.NotPanics(t, func() {
		metrics.RecordControlLoop(0.2, true)
		metrics.RecordLeaseOperation(types.OpAcquireLease, "conflict")
		metrics.RecordLeaseStateTransition(types.LeaseUnowned, types.LeaseAcquiring)
		metrics.RecordOwnedLeases(-1)
		metrics.RecordActiveHosts(3)
		metrics.RecordTotalLeases(0)
		metrics.RecordBatch(10, 0.01, false)
		metrics.RecordCheckpoint(true)
		metrics.RecordFeedRead(false)
		metrics.RecordHealthEvent(types.SeverityCritical, types.OpListLeases)
		metrics.RecordHealthEventDropped()
		metrics.RecordHeartbeat("host-a", true)
	})
}
