package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/relay/internal/breaker"
	cfgpkg "github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/dispatcher"
	recordpkg "github.com/rzbill/relay/internal/record"
	"github.com/rzbill/relay/internal/retry"
	"github.com/rzbill/relay/internal/runtime"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

type nullSink struct{}

func (nullSink) Submit(ctx context.Context, rec *recordpkg.Record) error { return nil }

func newTestServer(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	brk := breaker.New(5, time.Minute)
	disp := dispatcher.New(rt.Store(), nullSink{}, retry.Default(), brk, nil, dispatcher.Config{}, logger)
	return New(rt, disp, logger), rt
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestEnqueueHandler(t *testing.T) {
	s, rt := newTestServer(t)
	body := `{"id":"r1","payload":"aGVsbG8="}`
	req := httptest.NewRequest(http.MethodPost, "/v1/enqueue", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.ID != "r1" {
		t.Fatalf("resp: %v %+v", err, resp)
	}
	rec, err := rt.Store().Get(context.Background(), "r1")
	if err != nil || string(rec.Payload) != "hello" {
		t.Fatalf("stored record: %v %q", err, rec.Payload)
	}
}

func TestEnqueueBackpressureMapsTo429(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.MaxPending = 1
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	disp := dispatcher.New(rt.Store(), nullSink{}, retry.Default(), breaker.New(5, time.Minute), nil, dispatcher.Config{}, logger)
	s := New(rt, disp, logger)

	for i, want := range []int{http.StatusAccepted, http.StatusTooManyRequests} {
		body := `{"payload":"eA=="}`
		req := httptest.NewRequest(http.MethodPost, "/v1/enqueue", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.srv.Handler.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, want)
		}
	}
}

func TestGetHandlerNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/records/get?id=missing", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	s, rt := newTestServer(t)
	rt.Enqueue(context.Background(), "a", nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var stats dispatcher.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Pending != 1 || stats.BreakerState != "closed" {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestDeadLetterEndpoints(t *testing.T) {
	s, rt := newTestServer(t)
	ctx := context.Background()
	rt.Enqueue(ctx, "bad", []byte("x"))
	st := rt.Store()
	st.ClaimBatch(ctx, 1, time.Now().UnixMilli())
	st.MarkDeadLetter(ctx, "bad", "rejected")

	req := httptest.NewRequest(http.MethodGet, "/v1/deadletters", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("list status: %d", w.Code)
	}
	var list struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil || len(list.Records) != 1 {
		t.Fatalf("list: %v len=%d", err, len(list.Records))
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/deadletters/requeue", strings.NewReader(`{"id":"bad"}`))
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("requeue status: %d", w.Code)
	}
	rec, _ := st.Get(ctx, "bad")
	if rec.State != recordpkg.StatePending {
		t.Fatalf("state after requeue: %s", rec.State)
	}

	// nothing left to purge
	req = httptest.NewRequest(http.MethodPost, "/v1/deadletters/purge", nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("purge status: %d", w.Code)
	}
	var purged struct {
		Purged int `json:"purged"`
	}
	if err := json.NewDecoder(w.Body).Decode(&purged); err != nil || purged.Purged != 0 {
		t.Fatalf("purge: %v %+v", err, purged)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/enqueue", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("no request id assigned")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-1")
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Header().Get("X-Request-Id") != "caller-1" {
		t.Fatalf("caller request id not echoed")
	}
}
