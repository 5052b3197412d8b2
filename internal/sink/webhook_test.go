package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rzbill/relay/internal/record"
)

func TestWebhookDelivers(t *testing.T) {
	var gotID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID.Store(r.Header.Get("X-Relay-Id"))
		var body struct {
			ID      string `json:"id"`
			Payload []byte `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if string(body.Payload) != "hello" {
			t.Errorf("payload: %q", body.Payload)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewWebhookClient(srv.URL, nil)
	rec := &record.Record{ID: "r1", Payload: []byte("hello")}
	if err := c.Submit(context.Background(), rec); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotID.Load() != "r1" {
		t.Fatalf("dedup header: %v", gotID.Load())
	}
}

func TestWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		status   int
		terminal bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		status := tc.status
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		c := NewWebhookClient(srv.URL, nil)
		err := c.Submit(context.Background(), &record.Record{ID: "r"})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}
		var term *TerminalError
		if got := errors.As(err, &term); got != tc.terminal {
			t.Fatalf("status %d: terminal=%v, want %v (%v)", status, got, tc.terminal, err)
		}
	}
}

func TestWebhookTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewWebhookClient(srv.URL, nil)
	err := c.Submit(context.Background(), &record.Record{ID: "r"})
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("transport failure not retryable: %v", err)
	}
}
