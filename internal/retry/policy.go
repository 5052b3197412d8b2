package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Class is the outcome classification of a failed delivery attempt.
type Class int

const (
	// ClassRetryable schedules another attempt after a backoff delay.
	ClassRetryable Class = iota
	// ClassTerminal dead-letters the record immediately.
	ClassTerminal
)

// Classifier maps a delivery error to a Class. The consumer defines what
// "permanent" means for its sink.
type Classifier func(err error) Class

// terminaler is implemented by sink errors that carry their own
// classification.
type terminaler interface {
	Terminal() bool
}

// DefaultClassifier honors errors implementing Terminal() and treats
// everything else as retryable. Unknown failures fail open toward more
// retries, not data loss.
func DefaultClassifier(err error) Class {
	var t terminaler
	if errors.As(err, &t) && t.Terminal() {
		return ClassTerminal
	}
	return ClassRetryable
}

// Policy is the pure retry decision function plus configuration.
type Policy struct {
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay per attempt.
	Multiplier float64
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Jitter is the fractional spread applied to each delay (0.2 = ±20%),
	// avoiding thundering-herd resubmission after an outage.
	Jitter float64
	// MaxAttempts is the ceiling; exceeding it on a retryable error
	// dead-letters the record instead of retrying forever.
	MaxAttempts int32
	// Classify maps errors to Retryable/Terminal. Nil means
	// DefaultClassifier.
	Classify Classifier

	// randFloat is overridable in tests.
	randFloat func() float64
}

// Default returns the stock policy.
func Default() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    60 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 6,
	}
}

// ClassifyError classifies a delivery error.
func (p Policy) ClassifyError(err error) Class {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return DefaultClassifier(err)
}

// Exhausted reports whether attempts has reached the ceiling.
func (p Policy) Exhausted(attempts int32) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// NextDelay returns the backoff before the next attempt, given the number
// of attempts already made (>= 1).
func (p Policy) NextDelay(attempts int32) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2.0
	}
	d := float64(base) * math.Pow(mult, float64(attempts-1))
	if maxD := float64(p.MaxDelay); p.MaxDelay > 0 && d > maxD {
		d = maxD
	}
	if p.Jitter > 0 {
		rf := p.randFloat
		if rf == nil {
			rf = rand.Float64
		}
		// Spread into [1-j, 1+j].
		d *= 1 - p.Jitter + 2*p.Jitter*rf()
	}
	return time.Duration(d)
}
