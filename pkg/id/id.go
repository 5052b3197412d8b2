package id

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable record identifier encoded as
// 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence]. Sorting IDs
// as bytes orders them by creation time.
type ID [16]byte

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// String returns the lowercase hex encoding.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// TimeMs returns the embedded creation timestamp in Unix milliseconds.
func (i ID) TimeMs() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// IsZero reports whether the ID is the zero value.
func (i ID) IsZero() bool { return i == ID{} }

// Parse decodes a 32-character hex string into an ID.
func Parse(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if len(b) != 16 {
		return id, fmt.Errorf("id: parse %q: want 16 bytes, got %d", s, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds since Unix epoch. Overridable
// in tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. A backwards clock step reuses the last observed
// millisecond so ordering is preserved.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq++
	} else {
		g.lastMs = ms
		g.seq = 0
	}

	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint64(id[8:16], g.seq)
	return id
}

// NextString returns the hex form of Next.
func (g *Generator) NextString() string { return g.Next().String() }
