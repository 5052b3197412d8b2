package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitorEmitsRecoveryEvent(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	m := NewMonitor(Config{
		Probe: func(ctx context.Context) error {
			if down.Load() {
				return errors.New("unreachable")
			}
			return nil
		},
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	}, nil)
	m.Start()
	t.Cleanup(m.Stop)

	deadline := time.After(2 * time.Second)
	for m.Online() {
		select {
		case <-deadline:
			t.Fatalf("monitor never observed outage")
		case <-time.After(5 * time.Millisecond):
		}
	}

	down.Store(false)
	select {
	case <-m.Events():
	case <-deadline:
		t.Fatalf("no recovery event")
	}
	if !m.Online() {
		t.Fatalf("online flag not restored")
	}
}

func TestMonitorWithoutProbeStaysOnline(t *testing.T) {
	m := NewMonitor(Config{}, nil)
	m.Start()
	t.Cleanup(m.Stop)
	if !m.Online() {
		t.Fatalf("nil probe must report online")
	}
	select {
	case <-m.Events():
		t.Fatalf("unexpected event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	// any response means the path is reachable
	if err := HTTPProbe(srv.URL)(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	srv.Close()
	if err := HTTPProbe(srv.URL)(context.Background()); err == nil {
		t.Fatalf("expected probe failure against closed server")
	}
}

func TestTCPProbe(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	if err := TCPProbe(addr)(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	srv.Close()
	if err := TCPProbe(addr)(context.Background()); err == nil {
		t.Fatalf("expected dial failure after close")
	}
}
