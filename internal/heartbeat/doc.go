// Package heartbeat keeps a host's presence entry alive in a types.PresenceRegistry.
//
// Presence lets hosts that own no lease yet be counted as active when lease
// targets are computed, so a freshly started host receives its share without
// waiting for an existing host to fail.
//
// # Publisher Lifecycle
//
//  1. Create a publisher with New(registry, hostID, interval, ttl)
//  2. Start publishing with Start(ctx); the first heartbeat is written synchronously
//  3. Stop with Stop(ctx); the presence entry is deregistered immediately
//
// Example:
//
//	publisher := heartbeat.New(store, "host-a", 2*time.Second, 6*time.Second)
//	if err := publisher.Start(ctx); err != nil {
//	    return err
//	}
//	defer publisher.Stop(context.Background())
//
// # Crash Detection
//
// The registry expires entries whose TTL elapsed. A crashed host stops
// publishing and disappears from ActiveHosts after TTL; its leases are then
// reclaimed through lease expiration, which is independent of presence.
package heartbeat
