package health

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/arloliu/leasefeed/types"
)

// Nop discards every record.
type Nop struct{}

var _ types.HealthMonitor = Nop{}

// Inspect discards the record.
func (Nop) Inspect(context.Context, types.HealthRecord) error { return nil }

// Logging writes records to a logger at a level derived from severity:
// CRITICAL and ERROR go to Error and Warn, INFORMATIONAL goes to Debug.
type Logging struct {
	logger types.Logger
}

var _ types.HealthMonitor = (*Logging)(nil)

// NewLogging creates a logging monitor.
func NewLogging(logger types.Logger) *Logging {
	return &Logging{logger: logger}
}

// Inspect logs the record.
func (m *Logging) Inspect(_ context.Context, rec types.HealthRecord) error {
	kv := []any{
		"severity", rec.Severity.String(),
		"operation", string(rec.Operation),
		"lease", rec.Lease.LeaseToken,
		"host", rec.HostID,
	}
	if rec.Err != nil {
		kv = append(kv, "error", rec.Err)
	}

	switch rec.Severity {
	case types.SeverityCritical:
		m.logger.Error("health: critical", kv...)
	case types.SeverityError:
		m.logger.Warn("health: error", kv...)
	default:
		m.logger.Debug("health: informational", kv...)
	}

	return nil
}

// Recorder keeps every record in memory.
//
// Useful in tests and for exposing recent health on a debug endpoint.
type Recorder struct {
	mu      sync.Mutex
	records []types.HealthRecord
}

var _ types.HealthMonitor = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Inspect appends the record.
func (r *Recorder) Inspect(_ context.Context, rec types.HealthRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)

	return nil
}

// Records returns a copy of all records received so far.
func (r *Recorder) Records() []types.HealthRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.records)
}

// Filter returns the records matching severity and operation.
// An empty operation matches any operation.
func (r *Recorder) Filter(severity types.Severity, op types.Operation) []types.HealthRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.HealthRecord
	for _, rec := range r.records {
		if rec.Severity == severity && (op == "" || rec.Operation == op) {
			out = append(out, rec)
		}
	}

	return out
}

// Reset drops all recorded records.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
}

type multi []types.HealthMonitor

// Multi fans a record out to every monitor. Errors are joined; one failing
// monitor does not prevent delivery to the others.
func Multi(monitors ...types.HealthMonitor) types.HealthMonitor {
	return multi(slices.Clone(monitors))
}

func (m multi) Inspect(ctx context.Context, rec types.HealthRecord) error {
	var errs []error
	for _, mon := range m {
		if err := mon.Inspect(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
