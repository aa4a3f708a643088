// Package testing provides test utilities for the leasefeed library.
//
// This package offers helpers for setting up backends in tests: an embedded
// NATS server with JetStream for the natskv store and the jetstream feed, and
// an in-process Redis server for the redis store. It follows Go's convention
// of providing testing utilities in a dedicated package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - CreateStream: Convenience wrapper for stream creation
//   - StartRedis: In-process Redis server and client
//   - NewTestLogger: Logger writing through t.Logf
//
// Example usage:
//
//	import (
//	    "testing"
//	    lftest "github.com/arloliu/leasefeed/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := lftest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
