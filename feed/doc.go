// Package feed groups the built-in types.ChangeFeed implementations.
//
//   - feed/memory: ordered in-memory log, for tests and single-process use
//   - feed/jsfeed: NATS JetStream stream where each partition is a subject
//
// Continuation tokens are opaque to the rest of the system. Both feeds use a
// decimal position so that tokens compare in feed order, but callers must only
// store tokens returned by ReadChanges and never build their own.
package feed
