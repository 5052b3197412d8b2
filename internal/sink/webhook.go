package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rzbill/relay/internal/record"
)

// WebhookClient delivers records as JSON POSTs to a fixed URL.
//
// Status mapping: 2xx delivered; 408 and 429 retryable; other 4xx terminal;
// 5xx and transport errors retryable.
type WebhookClient struct {
	url    string
	client *http.Client
}

// NewWebhookClient creates a WebhookClient. A nil httpClient uses
// http.DefaultClient; per-attempt timeouts come from the submit context.
func NewWebhookClient(url string, httpClient *http.Client) *WebhookClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WebhookClient{url: url, client: httpClient}
}

type webhookBody struct {
	ID          string `json:"id"`
	CreatedAtMs int64  `json:"created_at_ms"`
	Attempts    int32  `json:"attempts"`
	Payload     []byte `json:"payload"`
}

// Submit implements Client.
func (w *WebhookClient) Submit(ctx context.Context, rec *record.Record) error {
	body, err := json.Marshal(webhookBody{
		ID:          rec.ID,
		CreatedAtMs: rec.CreatedAtMs,
		Attempts:    rec.Attempts,
		Payload:     rec.Payload,
	})
	if err != nil {
		return Terminalf("encode record %s: %v", rec.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Terminalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Receivers deduplicate repeated deliveries by this id.
	req.Header.Set("X-Relay-Id", rec.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return &RetryableError{Reason: fmt.Sprintf("post %s: %v", w.url, err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{Reason: "sink busy", StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &TerminalError{Reason: "rejected by sink", StatusCode: resp.StatusCode}
	default:
		return &RetryableError{Reason: "sink error", StatusCode: resp.StatusCode}
	}
}
