// Package retry provides the pure retry decision function: error
// classification (retryable vs terminal) and exponential backoff with
// jitter. Classification is separate from delay computation so the
// dispatcher treats all failures uniformly while the consumer defines what
// "permanent" means for its sink.
package retry
