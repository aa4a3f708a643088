package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/leasefeed/internal/backoff"
	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/internal/metrics"
	"github.com/arloliu/leasefeed/types"
)

// Reason tells why a processor exited.
type Reason int

const (
	// ReasonStopped means Stop or Abort was called, or the parent context ended.
	ReasonStopped Reason = iota

	// ReasonLeaseLost means a renew or checkpoint found the lease taken over.
	ReasonLeaseLost

	// ReasonLeaseGone means the lease was deleted.
	ReasonLeaseGone

	// ReasonObserverFailed means the observer failed with fail-fast enabled,
	// or its Open hook failed.
	ReasonObserverFailed
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonStopped:
		return "Stopped"
	case ReasonLeaseLost:
		return "LeaseLost"
	case ReasonLeaseGone:
		return "LeaseGone"
	case ReasonObserverFailed:
		return "ObserverFailed"
	default:
		return "Unknown"
	}
}

func (r Reason) closeReason() types.CloseReason {
	switch r {
	case ReasonLeaseLost:
		return types.CloseReasonLeaseLost
	case ReasonLeaseGone:
		return types.CloseReasonLeaseGone
	case ReasonObserverFailed:
		return types.CloseReasonObserverError
	default:
		return types.CloseReasonShutdown
	}
}

// Result is the outcome of a processor run.
type Result struct {
	// Lease is the last lease copy the processor holds. Its concurrency token
	// is current unless Reason is ReasonLeaseLost or ReasonLeaseGone.
	Lease types.Lease

	// Reason tells why the processor exited.
	Reason Reason

	// Err is the error that ended the run, nil for a requested stop.
	Err error
}

// Config holds the processor settings derived from the controller Config.
type Config struct {
	HostID                 string
	BatchSize              int
	PollInterval           time.Duration
	CheckpointEveryBatches int
	CheckpointInterval     time.Duration
	RenewInterval          time.Duration
	OperationTimeout       time.Duration
	FailFast               bool
	SkipFailedBatches      bool
	Retry                  backoff.Policy
}

// Deps holds the collaborators of a processor. Only Store, Feed and Observer
// are required.
type Deps struct {
	Store    types.LeaseStore
	Feed     types.ChangeFeed
	Observer types.Observer
	Health   types.HealthMonitor
	Metrics  types.MetricsCollector
	Logger   types.Logger
	Now      func() time.Time
}

// Processor drives one partition for one owned lease.
type Processor struct {
	cfg      Config
	feed     types.ChangeFeed
	observer types.Observer
	health   types.HealthMonitor
	metrics  types.MetricsCollector
	logger   types.Logger
	now      func() time.Time

	keeper    *leaseKeeper
	partition string

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
	cancelRun context.CancelFunc

	lostOnce sync.Once
	lostCh   chan struct{}

	result Result
}

// New creates a processor for lease. The lease must be the copy returned by
// the successful Acquire.
func New(cfg Config, lease types.Lease, deps Deps) *Processor {
	p := &Processor{
		cfg:       cfg,
		feed:      deps.Feed,
		observer:  deps.Observer,
		health:    deps.Health,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
		keeper:    newLeaseKeeper(deps.Store, lease),
		partition: lease.LeaseToken,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		lostCh:    make(chan struct{}),
	}
	if p.metrics == nil {
		p.metrics = metrics.NewNop()
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.cfg.BatchSize <= 0 {
		p.cfg.BatchSize = 100
	}
	if p.cfg.PollInterval <= 0 {
		p.cfg.PollInterval = time.Second
	}

	return p
}

// Start launches the pump and renewer goroutines. Subsequent calls are no-ops.
//
// ctx bounds the whole run. Cancelling it interrupts the in-flight observer
// call and store write, but only Abort suppresses the final checkpoint.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		p.cancelRun = cancel
		go p.run(runCtx)
	})
}

// Stop asks the processor to exit after the in-flight batch. It does not wait.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Abort stops the processor and cancels the context of the in-flight
// observer call and store write. After Abort the processor issues no further
// store writes, even if the observer call it interrupted returns later, so a
// lease abandoned to expiration keeps the concurrency token it had.
func (p *Processor) Abort() {
	p.keeper.abort()
	p.Stop()
	if p.cancelRun != nil {
		p.cancelRun()
	}
}

// Done is closed once the processor exited and Result is valid.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// Result returns the run outcome. It must only be called after Done is closed.
func (p *Processor) Result() Result {
	return p.result
}

// Wait blocks until the processor exits or ctx ends.
//
// Returns:
//   - Result: The run outcome when the processor exited
//   - error: ctx.Err() if ctx ended first
func (p *Processor) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Lease returns the latest copy of the lease held by the processor.
func (p *Processor) Lease() types.Lease {
	return p.keeper.current()
}

// LeaseToken returns the partition this processor drives.
func (p *Processor) LeaseToken() string {
	return p.partition
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancelRun()

	oc := types.ObserverContext{
		PartitionToken: p.partition,
		Lease:          p.keeper.current(),
		HostID:         p.cfg.HostID,
	}

	lifecycle, hasLifecycle := p.observer.(types.ObserverLifecycle)
	if hasLifecycle {
		if err := lifecycle.Open(ctx, oc); err != nil {
			p.report(ctx, types.SeverityError, types.OpProcessChanges, err)
			p.result = Result{
				Lease:  p.keeper.current(),
				Reason: ReasonObserverFailed,
				Err:    fmt.Errorf("%w: open: %w", types.ErrObserverFailed, err),
			}
			lifecycle.Close(context.WithoutCancel(ctx), oc, types.CloseReasonObserverError)

			return
		}
	}

	var renewWG sync.WaitGroup
	renewCtx, stopRenew := context.WithCancel(ctx)
	renewWG.Add(1)
	go func() {
		defer renewWG.Done()
		p.renewLoop(renewCtx)
	}()

	reason, runErr := p.pump(ctx, oc)

	stopRenew()
	renewWG.Wait()

	// A renew racing the pump's exit may have latched the keeper.
	if lost, gone := p.keeper.status(); reason == ReasonStopped {
		switch {
		case lost:
			reason = ReasonLeaseLost
		case gone:
			reason = ReasonLeaseGone
		}
	}

	p.result = Result{Lease: p.keeper.current(), Reason: reason, Err: runErr}
	p.logger.Debug("processor exited",
		"partition", p.partition,
		"reason", reason.String(),
		"continuation", p.result.Lease.ContinuationToken,
	)

	if hasLifecycle {
		oc.Lease = p.result.Lease
		lifecycle.Close(context.WithoutCancel(ctx), oc, reason.closeReason())
	}
}

// pump is the read-process-checkpoint loop. It returns why it stopped.
func (p *Processor) pump(ctx context.Context, oc types.ObserverContext) (Reason, error) {
	token := oc.Lease.ContinuationToken
	pending := 0
	lastCheckpoint := p.now()
	var retryDelay time.Duration

	for {
		if p.stopping(ctx) {
			return p.finish(ctx, token)
		}

		batch, err := p.read(ctx, token)
		if err != nil {
			if ctx.Err() != nil || p.stopping(ctx) {
				return p.finish(ctx, token)
			}

			sev := types.SeverityError
			if errors.Is(err, types.ErrInvalidContinuationToken) {
				sev = types.SeverityCritical
			}
			p.report(ctx, sev, types.OpReadFeed, err)
			p.sleep(ctx, p.cfg.PollInterval)

			continue
		}

		if batch.IsEmpty() {
			if pending > 0 && p.intervalDue(lastCheckpoint) {
				if err := p.checkpoint(ctx, token); err != nil {
					return p.lossReason()
				}
				pending, lastCheckpoint = 0, p.now()
			}
			p.sleep(ctx, p.cfg.PollInterval)

			continue
		}

		oc.Lease = p.keeper.current()
		started := p.now()
		err = p.observer.ProcessChanges(ctx, oc, batch.Changes)
		p.metrics.RecordBatch(len(batch.Changes), p.now().Sub(started).Seconds(), err == nil)

		if err != nil {
			if lost, gone := p.keeper.status(); lost || gone {
				return p.finish(ctx, token)
			}

			p.report(ctx, types.SeverityError, types.OpProcessChanges, err)
			switch {
			case p.cfg.FailFast:
				reason, ferr := p.finish(ctx, token)
				if reason == ReasonStopped {
					return ReasonObserverFailed, fmt.Errorf("%w: %w", types.ErrObserverFailed, err)
				}

				return reason, ferr

			case p.cfg.SkipFailedBatches:
				p.logger.Warn("skipping failed batch",
					"partition", p.partition,
					"changes", len(batch.Changes),
					"continuation", batch.ContinuationToken,
					"error", err,
				)

			default:
				retryDelay = backoff.Jitter(retryDelay, p.cfg.Retry.Base, p.cfg.Retry.Multiplier, p.cfg.Retry.Max, nil)
				p.sleep(ctx, retryDelay)

				continue
			}
		} else {
			retryDelay = 0
		}

		token = batch.ContinuationToken
		pending++

		batchDue := p.cfg.CheckpointEveryBatches > 0 && pending >= p.cfg.CheckpointEveryBatches
		if batchDue || p.intervalDue(lastCheckpoint) {
			if err := p.checkpoint(ctx, token); err != nil {
				return p.lossReason()
			}
			pending, lastCheckpoint = 0, p.now()
		}
	}
}

// finish lands the final checkpoint unless the lease is no longer ours or
// the processor was aborted.
func (p *Processor) finish(ctx context.Context, token string) (Reason, error) {
	if lost, gone := p.keeper.status(); lost || gone {
		return p.lossReason()
	}
	if p.keeper.isAborted() {
		return ReasonStopped, nil
	}

	// The run context may already be cancelled; the final write still gets
	// its own bounded attempt.
	if err := p.checkpoint(context.WithoutCancel(ctx), token); err != nil {
		return p.lossReason()
	}

	return ReasonStopped, nil
}

// checkpoint writes token with retry. It returns a non-nil error only when
// the lease was lost or deleted; other failures are reported and the pending
// position is retried at the next trigger.
func (p *Processor) checkpoint(ctx context.Context, token string) error {
	err := p.retry(ctx, types.OpCheckpoint, func(opCtx context.Context) error {
		return p.keeper.checkpoint(opCtx, token)
	})
	if errors.Is(err, types.ErrProcessorStopped) {
		return nil
	}
	p.metrics.RecordCheckpoint(err == nil)
	if err == nil {
		return nil
	}

	if lost, gone := p.keeper.status(); lost || gone {
		p.signalLost()
		return err
	}

	if ctx.Err() == nil {
		p.report(ctx, types.SeverityError, types.OpCheckpoint, err)
	}

	return nil
}

func (p *Processor) lossReason() (Reason, error) {
	lost, _ := p.keeper.status()
	if lost {
		return ReasonLeaseLost, types.ErrLeaseLost
	}

	return ReasonLeaseGone, types.ErrLeaseNotFound
}

func (p *Processor) read(ctx context.Context, token string) (types.Batch, error) {
	var batch types.Batch
	err := p.retry(ctx, types.OpReadFeed, func(opCtx context.Context) error {
		b, err := p.feed.ReadChanges(opCtx, p.partition, token, p.cfg.BatchSize)
		p.metrics.RecordFeedRead(err == nil)
		if err != nil {
			return err
		}
		batch = b

		return nil
	})

	return batch, err
}

func (p *Processor) renewLoop(ctx context.Context) {
	if p.cfg.RenewInterval <= 0 {
		return
	}

	ticker := time.NewTicker(p.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := p.retry(ctx, types.OpRenewLease, p.keeper.renew)
		switch {
		case err == nil:
			p.metrics.RecordLeaseOperation(types.OpRenewLease, "success")
		case types.IsLeaseLost(err) || types.IsLeaseNotFound(err):
			p.metrics.RecordLeaseOperation(types.OpRenewLease, "lost")
			p.logger.Info("lease lost on renew", "partition", p.partition, "error", err)
			p.signalLost()

			return
		case ctx.Err() != nil, errors.Is(err, types.ErrProcessorStopped):
			return
		default:
			p.metrics.RecordLeaseOperation(types.OpRenewLease, "error")
			p.report(ctx, types.SeverityError, types.OpRenewLease, err)
		}
	}
}

// retry runs fn under the retry policy with a per-attempt operation timeout.
func (p *Processor) retry(ctx context.Context, op types.Operation, fn func(context.Context) error) error {
	return backoff.Retry(ctx, p.cfg.Retry, types.IsTransient, func(ctx context.Context) error {
		if p.cfg.OperationTimeout <= 0 {
			return fn(ctx)
		}
		opCtx, cancel := context.WithTimeout(ctx, p.cfg.OperationTimeout)
		defer cancel()

		return fn(opCtx)
	}, func(attempt int, err error) {
		p.logger.Debug("retrying",
			"partition", p.partition,
			"operation", string(op),
			"attempt", attempt,
			"error", err,
		)
	})
}

// signalLost interrupts the pump's sleeps and in-flight observer call.
func (p *Processor) signalLost() {
	p.lostOnce.Do(func() {
		close(p.lostCh)
		if p.cancelRun != nil {
			p.cancelRun()
		}
	})
}

func (p *Processor) stopping(ctx context.Context) bool {
	select {
	case <-p.stopCh:
		return true
	case <-p.lostCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-p.stopCh:
	case <-p.lostCh:
	case <-ctx.Done():
	}
}

func (p *Processor) intervalDue(last time.Time) bool {
	return p.cfg.CheckpointInterval > 0 && p.now().Sub(last) >= p.cfg.CheckpointInterval
}

func (p *Processor) report(ctx context.Context, severity types.Severity, op types.Operation, err error) {
	if p.health == nil {
		return
	}

	rec := types.HealthRecord{
		Severity:  severity,
		Operation: op,
		Lease:     p.keeper.current(),
		Err:       err,
		HostID:    p.cfg.HostID,
		Timestamp: p.now(),
	}
	if herr := p.health.Inspect(context.WithoutCancel(ctx), rec); herr != nil {
		p.logger.Warn("health monitor failed", "partition", p.partition, "error", herr)
	}
}
