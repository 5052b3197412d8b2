package store

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for queue data structures
const (
	prefixRecord   = "rec/"          // Record data
	prefixReady    = "ready_idx/"    // Pending records ordered by next-attempt time
	prefixInflight = "inflight_idx/" // Claimed records ordered by claim time
	prefixDone     = "done_idx/"     // Delivered records ordered by delivery time
	prefixDLQ      = "dlq_idx/"      // Dead-lettered records
)

// queuePrefix returns the base prefix for a queue.
// Format: q/{queue}/
func queuePrefix(queue string) string {
	return fmt.Sprintf("q/%s/", queue)
}

// recordKey returns the key for a record.
// Format: q/{queue}/rec/{id}
func recordKey(queue, id string) []byte {
	return []byte(queuePrefix(queue) + prefixRecord + id)
}

// readyKey returns the ready index key.
// Format: q/{queue}/ready_idx/{at_ms}/{id}
// Claiming scans this index from the start, so records come back oldest
// next-attempt first.
func readyKey(queue string, atMs int64, id string) []byte {
	return timeIndexKey(queue, prefixReady, atMs, id)
}

// inflightKey returns the in-flight index key.
// Format: q/{queue}/inflight_idx/{claimed_ms}/{id}
func inflightKey(queue string, claimedMs int64, id string) []byte {
	return timeIndexKey(queue, prefixInflight, claimedMs, id)
}

// doneKey returns the delivered index key used by retention GC.
// Format: q/{queue}/done_idx/{delivered_ms}/{id}
func doneKey(queue string, deliveredMs int64, id string) []byte {
	return timeIndexKey(queue, prefixDone, deliveredMs, id)
}

// dlqKey returns the dead-letter index key.
// Format: q/{queue}/dlq_idx/{id}
func dlqKey(queue, id string) []byte {
	return []byte(queuePrefix(queue) + prefixDLQ + id)
}

// countsKey returns the metadata key holding queue counters.
// Format: q/{queue}/meta/counts
func countsKey(queue string) []byte {
	return []byte(queuePrefix(queue) + "meta/counts")
}

// timeIndexKey builds prefix + 8-byte big-endian timestamp + id so the
// index sorts by time first.
func timeIndexKey(queue, prefix string, atMs int64, id string) []byte {
	p := queuePrefix(queue) + prefix
	key := make([]byte, len(p)+8+len(id))
	copy(key, p)
	binary.BigEndian.PutUint64(key[len(p):], uint64(atMs))
	copy(key[len(p)+8:], id)
	return key
}

// readyPrefix returns the scan prefix for the ready index.
func readyPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixReady)
}

// inflightPrefix returns the scan prefix for the in-flight index.
func inflightPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixInflight)
}

// donePrefix returns the scan prefix for the delivered index.
func donePrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDone)
}

// dlqPrefix returns the scan prefix for the dead-letter index.
func dlqPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDLQ)
}

// splitTimeIndexKey extracts the timestamp and id from a time index key.
func splitTimeIndexKey(key, prefix []byte) (atMs int64, id string, ok bool) {
	if len(key) < len(prefix)+8+1 {
		return 0, "", false
	}
	atMs = int64(binary.BigEndian.Uint64(key[len(prefix) : len(prefix)+8]))
	id = string(key[len(prefix)+8:])
	return atMs, id, true
}
