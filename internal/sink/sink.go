// Package sink defines the remote delivery target consumed by the
// dispatcher, and ships two built-in clients (webhook HTTP and Kafka).
//
// The queue guarantees at-least-once delivery: a sink may see the same
// record more than once and must deduplicate by record id.
package sink

import (
	"context"

	"github.com/rzbill/relay/internal/record"
)

// Client is the abstract remote call. Submit returns nil on delivery, a
// *RetryableError or *TerminalError when it can classify the failure, or
// any other error (classified by the retry policy, retryable by default).
type Client interface {
	Submit(ctx context.Context, rec *record.Record) error
}

// BatchClient is implemented by sinks supporting bulk submission. The
// returned slice holds one outcome per input record, nil for delivered.
type BatchClient interface {
	Client
	SubmitBatch(ctx context.Context, recs []*record.Record) []error
}

// Closer is implemented by clients holding network resources.
type Closer interface {
	Close() error
}
