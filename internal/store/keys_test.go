package store

import (
	"bytes"
	"testing"
)

func TestTimeIndexKeySortsByTime(t *testing.T) {
	early := readyKey("q", 1000, "z")
	late := readyKey("q", 2000, "a")
	if bytes.Compare(early, late) >= 0 {
		t.Fatalf("earlier time must sort first")
	}
}

func TestSplitTimeIndexKeyRoundtrip(t *testing.T) {
	key := inflightKey("q", 123456, "rec-1")
	atMs, id, ok := splitTimeIndexKey(key, inflightPrefix("q"))
	if !ok || atMs != 123456 || id != "rec-1" {
		t.Fatalf("split: ok=%v at=%d id=%q", ok, atMs, id)
	}
}

func TestSplitTimeIndexKeyRejectsShortKey(t *testing.T) {
	if _, _, ok := splitTimeIndexKey([]byte("short"), readyPrefix("q")); ok {
		t.Fatalf("expected split of short key to fail")
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	a := recordKey("a", "x")
	b := recordKey("b", "x")
	if bytes.Equal(a, b) {
		t.Fatalf("queue prefixes collide")
	}
}
