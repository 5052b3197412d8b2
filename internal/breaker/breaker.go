// Package breaker implements the circuit breaker guarding the sink.
//
// The breaker prevents a continuously-failing sink from being bombarded by
// every queued record's retry schedule at once. While Open, the dispatcher
// skips delivery cycles entirely, so records' attempt budgets are paused
// rather than consumed during a known outage.
package breaker

import (
	"sync/atomic"
	"time"
)

// State of the circuit.
type State int32

const (
	// Closed is normal operation; failures increment a counter.
	Closed State = iota
	// Open suppresses all delivery until the reset timeout elapses.
	Open
	// HalfOpen allows exactly one in-flight probe delivery.
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker tracks consecutive sink failures, process-wide. The fast-path
// state check is a lock-free atomic load; brief staleness costs at most one
// wasted attempt.
type Breaker struct {
	state     atomic.Int32
	fails     atomic.Int32
	openedAt  atomic.Int64 // unix ms
	probeBusy atomic.Int32 // 1 while a half-open probe is in flight

	threshold    int32
	resetTimeout time.Duration

	// OnStateChange, when set, is invoked after every transition.
	OnStateChange func(from, to State)

	// nowMs is overridable in tests.
	nowMs func() int64
}

// New creates a Breaker. threshold <= 0 defaults to 5; resetTimeout <= 0
// defaults to 30s.
func New(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	b := &Breaker{
		threshold:    int32(threshold),
		resetTimeout: resetTimeout,
		nowMs:        func() int64 { return time.Now().UnixMilli() },
	}
	b.state.Store(int32(Closed))
	return b
}

// State returns the current circuit state, transitioning Open → HalfOpen
// when the reset timeout has elapsed.
func (b *Breaker) State() State {
	s := State(b.state.Load())
	if s == Open && b.nowMs()-b.openedAt.Load() >= b.resetTimeout.Milliseconds() {
		// CAS: only one caller wins the Open → HalfOpen transition.
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			b.probeBusy.Store(0)
			b.notify(Open, HalfOpen)
			return HalfOpen
		}
		return State(b.state.Load())
	}
	return s
}

// Allow reports whether a delivery may proceed. In HalfOpen, only the one
// caller that wins the probe slot is allowed; callers must report the
// outcome via RecordSuccess or RecordFailure to free the slot.
func (b *Breaker) Allow() bool {
	switch b.State() {
	case Closed:
		return true
	case HalfOpen:
		return b.probeBusy.CompareAndSwap(0, 1)
	default:
		return false
	}
}

// RecordSuccess reports a successful delivery.
func (b *Breaker) RecordSuccess() {
	b.fails.Store(0)
	if State(b.state.Load()) == HalfOpen {
		b.probeBusy.Store(0)
		if b.state.CompareAndSwap(int32(HalfOpen), int32(Closed)) {
			b.notify(HalfOpen, Closed)
		}
	}
}

// RecordFailure reports a failed delivery.
func (b *Breaker) RecordFailure() {
	fails := b.fails.Add(1)
	switch State(b.state.Load()) {
	case HalfOpen:
		// Probe failed; reopen and restart the reset clock.
		b.probeBusy.Store(0)
		b.openedAt.Store(b.nowMs())
		if b.state.CompareAndSwap(int32(HalfOpen), int32(Open)) {
			b.notify(HalfOpen, Open)
		}
	case Closed:
		if fails >= b.threshold {
			b.openedAt.Store(b.nowMs())
			if b.state.CompareAndSwap(int32(Closed), int32(Open)) {
				b.notify(Closed, Open)
			}
		}
	}
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	return int(b.fails.Load())
}

// OpenedAtMs returns when the circuit last opened, in unix ms.
func (b *Breaker) OpenedAtMs() int64 { return b.openedAt.Load() }

func (b *Breaker) notify(from, to State) {
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
