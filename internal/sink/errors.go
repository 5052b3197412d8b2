package sink

import "fmt"

// RetryableError marks a transient delivery failure (timeout, rate limit,
// 5xx-equivalent). The record is retried with backoff.
type RetryableError struct {
	Reason     string
	StatusCode int
}

func (e *RetryableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sink: retryable (%d): %s", e.StatusCode, e.Reason)
	}
	return "sink: retryable: " + e.Reason
}

// Terminal implements the retry policy's classification interface.
func (e *RetryableError) Terminal() bool { return false }

// Code returns the sink status code, 0 when absent.
func (e *RetryableError) Code() int { return e.StatusCode }

// TerminalError marks a permanent delivery failure (malformed payload,
// rejected by sink business logic). The record is dead-lettered without
// further attempts.
type TerminalError struct {
	Reason     string
	StatusCode int
}

func (e *TerminalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sink: terminal (%d): %s", e.StatusCode, e.Reason)
	}
	return "sink: terminal: " + e.Reason
}

// Terminal implements the retry policy's classification interface.
func (e *TerminalError) Terminal() bool { return true }

// Code returns the sink status code, 0 when absent.
func (e *TerminalError) Code() int { return e.StatusCode }

// Retryablef builds a RetryableError.
func Retryablef(format string, args ...interface{}) *RetryableError {
	return &RetryableError{Reason: fmt.Sprintf(format, args...)}
}

// Terminalf builds a TerminalError.
func Terminalf(format string, args ...interface{}) *TerminalError {
	return &TerminalError{Reason: fmt.Sprintf(format, args...)}
}
