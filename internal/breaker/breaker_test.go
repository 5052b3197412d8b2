package breaker

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *int64) {
	b := New(threshold, reset)
	now := int64(1_000_000)
	b.nowMs = func() int64 { return now }
	return b, &now
}

func TestOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatalf("opened below threshold")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	if b.Allow() {
		t.Fatalf("open breaker allowed delivery")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatalf("non-consecutive failures opened the circuit")
	}
	if b.ConsecutiveFailures() != 2 {
		t.Fatalf("fails = %d", b.ConsecutiveFailures())
	}
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("not open")
	}
	*now += 59_000
	if b.State() != Open {
		t.Fatalf("reset before timeout")
	}
	*now += 1_000
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	*now += 60_000
	if !b.Allow() {
		t.Fatalf("probe slot not granted")
	}
	if b.Allow() {
		t.Fatalf("second concurrent probe allowed")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	*now += 60_000
	if !b.Allow() {
		t.Fatalf("probe not allowed")
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("state = %v after probe success", b.State())
	}
	if !b.Allow() {
		t.Fatalf("closed breaker must allow")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	openedAt := b.OpenedAtMs()
	*now += 60_000
	if !b.Allow() {
		t.Fatalf("probe not allowed")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %v after probe failure", b.State())
	}
	if b.OpenedAtMs() == openedAt {
		t.Fatalf("reset clock not restarted")
	}
	// next probe only after a fresh full timeout
	*now += 59_000
	if b.State() != Open {
		t.Fatalf("reopened early")
	}
	*now += 1_000
	if b.State() != HalfOpen {
		t.Fatalf("no second probe window")
	}
}

func TestOnStateChange(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	var transitions []string
	b.OnStateChange = func(from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	b.RecordFailure()
	*now += 60_000
	b.Allow()
	b.RecordSuccess()
	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions: %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}
