// Package connectivity observes reachability of the remote sink.
//
// The monitor's Online/Offline signal is a hint, not a guarantee: the
// dispatcher still attempts delivery and handles failure normally. The
// monitor only controls when to proactively wake the dispatcher instead of
// waiting for the next periodic tick.
package connectivity

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/relay/pkg/log"
)

// ProbeFunc checks reachability of the sink's network path. A nil return
// means Online.
type ProbeFunc func(ctx context.Context) error

// Monitor polls a probe and emits an edge-triggered event on the
// Offline → Online transition.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   log.Logger

	online atomic.Bool
	events chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// Config for a Monitor.
type Config struct {
	Probe    ProbeFunc
	Interval time.Duration // default 30s
	Timeout  time.Duration // per-probe timeout, default 5s
}

// NewMonitor creates a Monitor. A nil probe means always-online.
func NewMonitor(cfg Config, logger log.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	m := &Monitor{
		probe:    cfg.Probe,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   logger.With(log.Component("connectivity")),
		events:   make(chan struct{}, 1),
	}
	// Optimistic until the first probe says otherwise.
	m.online.Store(true)
	return m
}

// Online returns the last observed reachability state.
func (m *Monitor) Online() bool { return m.online.Load() }

// Events returns the channel signaled on each Offline → Online transition.
// The channel has capacity 1; coalesced wakeups are fine for the consumer.
func (m *Monitor) Events() <-chan struct{} { return m.events }

// Start begins background probing. No-op when no probe is configured.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probe == nil || m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts background probing.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		m.wg.Wait()
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe(pctx)
	cancel()

	wasOnline := m.online.Load()
	nowOnline := err == nil
	m.online.Store(nowOnline)

	switch {
	case !wasOnline && nowOnline:
		m.logger.Info("sink reachable again")
		select {
		case m.events <- struct{}{}:
		default:
		}
	case wasOnline && !nowOnline:
		m.logger.Warn("sink unreachable", log.Err(err))
	}
}

// TCPProbe dials addr to check reachability.
func TCPProbe(addr string) ProbeFunc {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// HTTPProbe issues a HEAD request against url to check reachability. Any
// HTTP response counts as reachable; classification of sink-level errors
// belongs to the retry policy.
func HTTPProbe(url string) ProbeFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}
