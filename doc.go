// Package leasefeed distributes the partitions of a change feed across a
// dynamic set of hosts and processes each partition on exactly one host at a
// time, resuming from the last checkpoint after failover.
//
// Coordination happens only through a shared LeaseStore. Every partition has
// one lease holding its owner, a timestamp and a continuation token; every
// write is a compare-and-swap on the lease's concurrency token. There is no
// leader: each host periodically reads all leases and decides locally what to
// acquire and release, and balance emerges from every host running the same
// deterministic strategy.
//
// # Quick Start
//
//	import (
//	    "github.com/arloliu/leasefeed"
//	    "github.com/arloliu/leasefeed/feed/jsfeed"
//	    "github.com/arloliu/leasefeed/store/natskv"
//	)
//
//	store, _ := natskv.New(ctx, js, natskv.WithBucket("orders-leases"))
//	feed := jsfeed.New(stream, jsfeed.WithSubjectPrefix("orders."))
//
//	cfg := leasefeed.DefaultConfig()
//	ctrl, err := leasefeed.NewController(&cfg, hostID, store, feed,
//	    leasefeed.ObserverFunc(func(ctx context.Context, oc leasefeed.ObserverContext, changes []leasefeed.Change) error {
//	        return handle(ctx, oc.PartitionToken, changes)
//	    }),
//	    leasefeed.WithPartitionSource(feed),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := ctrl.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Stop(context.Background())
//
// # Guarantees
//
//   - At most one live owner per lease: ownership changes only through a
//     successful compare-and-swap
//   - At-least-once delivery: a batch is checkpointed only after the observer
//     returned; a crash or handoff redelivers from the last checkpoint
//   - Monotonic checkpoints: continuation tokens come only from the feed and
//     never move backwards for a partition
//   - Failover within one expiration interval plus one acquire interval
//
// # Architecture
//
// The Controller runs one control loop per host:
//
//	list leases → reap exited processors → reconcile → balance → acquire → release
//
// Each owned lease gets a processor goroutine running
//
//	read → observe → checkpoint
//
// plus a renewer that refreshes the lease timestamp. A processor that sees a
// concurrency conflict stops immediately and never writes again. Operational
// events flow to a HealthMonitor, which only observes.
//
// # Presence
//
// Lease owners alone cannot reveal a freshly started host, so hosts also
// publish presence heartbeats when the lease store implements
// PresenceRegistry (or one is passed with WithPresence). New hosts then
// receive their share as existing hosts release their surplus.
//
// # Strategies
//
// The default strategy.EqualShare keeps lease counts within one of each
// other. strategy.ConsistentHash places each partition on a hash ring for
// stable placement across restarts.
//
// See the examples/ directory for complete working examples.
package leasefeed
