package main

import (
	"context"

	"github.com/arloliu/leasefeed"
)

// logObserver logs every change it receives.
type logObserver struct {
	logger leasefeed.Logger
}

var (
	_ leasefeed.Observer          = (*logObserver)(nil)
	_ leasefeed.ObserverLifecycle = (*logObserver)(nil)
)

func (o *logObserver) Open(_ context.Context, oc leasefeed.ObserverContext) error {
	o.logger.Info("partition opened",
		"partition", oc.PartitionToken,
		"continuation", oc.Lease.ContinuationToken,
	)

	return nil
}

func (o *logObserver) ProcessChanges(_ context.Context, oc leasefeed.ObserverContext, changes []leasefeed.Change) error {
	for _, ch := range changes {
		o.logger.Debug("change",
			"partition", oc.PartitionToken,
			"position", ch.Position,
			"key", ch.Key,
			"bytes", len(ch.Data),
		)
	}
	o.logger.Info("batch processed", "partition", oc.PartitionToken, "changes", len(changes))

	return nil
}

func (o *logObserver) Close(_ context.Context, oc leasefeed.ObserverContext, reason leasefeed.CloseReason) {
	o.logger.Info("partition closed", "partition", oc.PartitionToken, "reason", reason.String())
}
