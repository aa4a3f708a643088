// Package processor runs the read-process-checkpoint loop for one owned lease.
//
// A Processor owns two goroutines while it runs:
//
//   - the pump reads batches from the change feed, hands them to the observer
//     and checkpoints progress
//   - the renewer refreshes the lease every renew interval
//
// Both write the lease through a keeper that serializes store calls, so every
// write carries the latest concurrency token. The first write that fails with
// ErrLeaseLost (or ErrLeaseNotFound) latches the keeper: no further write is
// attempted and the processor exits without a final checkpoint.
//
// Stop is cooperative. The in-flight observer call completes, the final
// position is checkpointed, and Done is closed. Abort additionally cancels the
// observer context for callers that gave up waiting.
package processor
