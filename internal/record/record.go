package record

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// State is the delivery state of a Record.
type State int32

const (
	StatePending State = iota
	StateInFlight
	StateDelivered
	StateFailed
	StateDeadLettered
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateDeadLettered
}

// Record is the unit of work queued for delivery to a sink.
//
// Payload is opaque; the queue never inspects it. ID is stable across
// retries and is the sink-side deduplication key for at-least-once
// delivery.
type Record struct {
	ID      string `json:"id"`
	Payload []byte `json:"-"`

	CreatedAtMs     int64  `json:"created_at_ms"`
	State           State  `json:"state"`
	Attempts        int32  `json:"attempts"`
	NextAttemptAtMs int64  `json:"next_attempt_at_ms"`
	LastError       string `json:"last_error,omitempty"`

	// ClaimedAtMs is set while the record is InFlight; stale-claim recovery
	// keys off it.
	ClaimedAtMs int64 `json:"claimed_at_ms,omitempty"`
	// DeliveredAtMs is set on the Delivered transition; retention GC keys
	// off it.
	DeliveredAtMs int64 `json:"delivered_at_ms,omitempty"`
}

// Stored value framing: metaLen(4B BE) | meta JSON | payload | crc32c(meta|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Encode serializes a Record for storage.
func Encode(r *Record) ([]byte, error) {
	meta, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(meta)+len(r.Payload)+4)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(meta)))
	out = append(out, lb[:]...)
	out = append(out, meta...)
	out = append(out, r.Payload...)
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, r.Payload)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	out = append(out, cb[:]...)
	return out, nil
}

// Decode deserializes a stored Record. The bool result is false when the
// value is truncated or fails its checksum.
func Decode(b []byte) (*Record, bool) {
	if len(b) < 8 {
		return nil, false
	}
	mlen := binary.BigEndian.Uint32(b[:4])
	if int(4+mlen+4) > len(b) {
		return nil, false
	}
	metaEnd := 4 + int(mlen)
	meta := b[4:metaEnd]
	payload := b[metaEnd : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return nil, false
	}
	var r Record
	if err := json.Unmarshal(meta, &r); err != nil {
		return nil, false
	}
	r.Payload = append([]byte(nil), payload...)
	return &r, true
}
