package serverrun

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rzbill/relay/internal/breaker"
	cfgpkg "github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/connectivity"
	"github.com/rzbill/relay/internal/dispatcher"
	"github.com/rzbill/relay/internal/retry"
	"github.com/rzbill/relay/internal/runtime"
	httpserver "github.com/rzbill/relay/internal/server/http"
	"github.com/rzbill/relay/internal/sink"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config

	// Sink overrides the client built from Config.Sink. Used by tests.
	Sink sink.Client
}

// Run starts the runtime, dispatcher and HTTP server, and blocks until ctx
// is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context. We layer
	// a local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")
	rt, err := runtime.Open(runtime.Options{DataDir: storeDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval, Config: opts.Config})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Build process-wide logger using env/ApplyConfig; defaults: level=info, format=text
	lcfg := &logpkg.Config{
		Level:  getenvDefault("RELAY_LOG_LEVEL", "info"),
		Format: getenvDefault("RELAY_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(lcfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(lcfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	cfg := opts.Config

	client := opts.Sink
	if client == nil {
		client, err = buildSink(cfg.Sink)
		if err != nil {
			return err
		}
	}
	if c, ok := client.(sink.Closer); ok {
		defer c.Close()
	}

	policy, err := buildPolicy(cfg.Retry)
	if err != nil {
		return err
	}

	brk := breaker.New(cfg.Breaker.FailureThreshold, time.Duration(cfg.Breaker.ResetTimeoutMs)*time.Millisecond)

	var monitor *connectivity.Monitor
	if probe := buildProbe(cfg.Sink); probe != nil {
		monitor = connectivity.NewMonitor(connectivity.Config{
			Probe:    probe,
			Interval: time.Duration(cfg.Connectivity.ProbeIntervalMs) * time.Millisecond,
			Timeout:  time.Duration(cfg.Connectivity.ProbeTimeoutMs) * time.Millisecond,
		}, procLogger)
		monitor.Start()
		defer monitor.Stop()
	}

	disp := dispatcher.New(rt.Store(), client, policy, brk, monitor, dispatcher.Config{
		ClaimBatch:     cfg.Dispatcher.ClaimBatch,
		Workers:        cfg.Dispatcher.Workers,
		AttemptTimeout: time.Duration(cfg.Dispatcher.AttemptTimeoutMs) * time.Millisecond,
		Tick:           time.Duration(cfg.Dispatcher.TickMs) * time.Millisecond,
		StaleClaim:     time.Duration(cfg.Dispatcher.StaleClaimMs) * time.Millisecond,
		Retention:      time.Duration(cfg.Dispatcher.RetentionMs) * time.Millisecond,
		ShutdownGrace:  time.Duration(cfg.Dispatcher.ShutdownGraceMs) * time.Millisecond,
		PreferBatch:    cfg.Dispatcher.PreferBatch,
	}, procLogger)
	rt.SetEnqueueHook(disp.NotifyEnqueue)

	procLogger.Info("Starting Relay server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("queue", cfg.Queue),
		logpkg.Str("sink", cfg.Sink.Type),
		logpkg.Str("level", lcfg.Level),
		logpkg.Str("format", lcfg.Format),
	)

	hsrv := httpserver.New(rt, disp, procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := disp.Run(sctx); err != nil && sctx.Err() == nil {
			log.Printf("dispatcher error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			log.Printf("http error: %v", err)
		}
	}()

	<-sctx.Done()
	// Initiate graceful shutdown of the server before closing the runtime/DB
	// to avoid races.
	hsrv.Close()
	wg.Wait()
	return nil
}

func buildSink(cfg cfgpkg.SinkConfig) (sink.Client, error) {
	switch cfg.Type {
	case "", "webhook":
		if cfg.URL == "" {
			return nil, fmt.Errorf("sink: webhook url required")
		}
		return sink.NewWebhookClient(cfg.URL, nil), nil
	case "kafka":
		if len(cfg.Brokers) == 0 || cfg.Topic == "" {
			return nil, fmt.Errorf("sink: kafka brokers and topic required")
		}
		return sink.NewKafkaClient(cfg.Brokers, cfg.Topic), nil
	default:
		return nil, fmt.Errorf("sink: unknown type %q", cfg.Type)
	}
}

func buildProbe(cfg cfgpkg.SinkConfig) connectivity.ProbeFunc {
	if cfg.ProbeAddr != "" {
		return connectivity.TCPProbe(cfg.ProbeAddr)
	}
	switch cfg.Type {
	case "", "webhook":
		if cfg.URL != "" {
			return connectivity.HTTPProbe(cfg.URL)
		}
	case "kafka":
		if len(cfg.Brokers) > 0 {
			return connectivity.TCPProbe(cfg.Brokers[0])
		}
	}
	return nil
}

func buildPolicy(cfg cfgpkg.RetryConfig) (retry.Policy, error) {
	p := retry.Default()
	if cfg.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(cfg.BaseDelayMs) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	}
	if cfg.Jitter > 0 {
		p.Jitter = cfg.Jitter
	}
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Classify != "" {
		cls, err := retry.NewCELClassifier(cfg.Classify)
		if err != nil {
			return retry.Policy{}, fmt.Errorf("retry: classify: %w", err)
		}
		p.Classify = cls
	}
	return p, nil
}
