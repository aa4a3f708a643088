// Package store groups the types.LeaseStore implementations.
//
// Available implementations:
//   - memory: in-process store for tests and single-process deployments
//   - natskv: NATS JetStream KeyValue bucket, KV revision as concurrency token
//   - redisstore: Redis hashes updated through Lua compare-and-set scripts
//
// Every implementation also implements types.PresenceRegistry.
package store
