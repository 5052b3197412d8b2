// Package dispatcher drains the durable store and delivers records to the
// sink.
//
// The dispatcher wakes on producer enqueues, connectivity-restored events,
// a periodic tick, or an explicit sync request. Each wake runs one cycle:
// consult the circuit breaker, claim a bounded batch, submit with bounded
// parallelism and a per-attempt timeout, and apply the retry policy to
// failures.
//
// A dispatcher crash mid-cycle leaves affected records InFlight; stale
// claim recovery reverts them to Pending on the next startup. No record is
// lost, at the cost of possible duplicate delivery, so the sink must
// deduplicate by record id.
package dispatcher
