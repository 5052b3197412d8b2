// Package store implements the durable record store backing the delivery
// queue.
//
// # Keyspace
//
// All keys are prefixed with q/{queue}/:
//
//	rec/{id}                      - Record data (JSON meta + payload + crc32c)
//	ready_idx/{at_ms}/{id}        - Pending records, ordered by next-attempt time
//	inflight_idx/{claimed_ms}/{id}- Claimed records, ordered by claim time
//	done_idx/{delivered_ms}/{id}  - Delivered records, ordered for retention GC
//	dlq_idx/{id}                  - Dead-lettered records
//	meta/counts                   - pending | inflight | dlq counters
//
// # Record Lifecycle
//
//  1. Enqueue: record written Pending, indexed in ready_idx
//  2. ClaimBatch: record flips to InFlight, moves to inflight_idx
//  3. Outcome: MarkDelivered (done_idx), MarkRetry (back to ready_idx at a
//     later time), or MarkDeadLetter (dlq_idx)
//  4. RecoverStaleInFlight: claims from a crashed dispatcher revert to
//     Pending with attempts unchanged
//  5. SweepDelivered: delivered records past retention are deleted
//
// Every transition commits as a single Pebble batch, so a crash between
// any two operations leaves the store consistent. Dead-lettered records
// are never deleted without an explicit operator purge or requeue.
package store
