package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Queue        string             `json:"queue"`
	MaxPending   int                `json:"maxPending"`
	Sink         SinkConfig         `json:"sink"`
	Retry        RetryConfig        `json:"retry"`
	Breaker      BreakerConfig      `json:"breaker"`
	Dispatcher   DispatcherConfig   `json:"dispatcher"`
	Connectivity ConnectivityConfig `json:"connectivity"`
}

// SinkConfig selects and configures the built-in sink client.
type SinkConfig struct {
	// Type is "webhook" or "kafka".
	Type string `json:"type"`
	// URL is the webhook endpoint (webhook sinks).
	URL string `json:"url"`
	// Brokers and Topic configure kafka sinks.
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
	// ProbeAddr overrides the connectivity probe target (host:port). When
	// empty, the probe derives from the sink itself.
	ProbeAddr string `json:"probeAddr"`
}

// RetryConfig captures backoff and classification settings.
type RetryConfig struct {
	BaseDelayMs int64   `json:"baseDelayMs"`
	Multiplier  float64 `json:"multiplier"`
	MaxDelayMs  int64   `json:"maxDelayMs"`
	Jitter      float64 `json:"jitter"`
	MaxAttempts int32   `json:"maxAttempts"`
	// Classify is an optional CEL expression over (message, code) deciding
	// terminal failures, e.g. "code >= 400 && code < 500".
	Classify string `json:"classify"`
}

// BreakerConfig captures circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int   `json:"failureThreshold"`
	ResetTimeoutMs   int64 `json:"resetTimeoutMs"`
}

// DispatcherConfig captures drain-loop settings.
type DispatcherConfig struct {
	ClaimBatch       int   `json:"claimBatch"`
	Workers          int64 `json:"workers"`
	AttemptTimeoutMs int64 `json:"attemptTimeoutMs"`
	TickMs           int64 `json:"tickMs"`
	StaleClaimMs     int64 `json:"staleClaimMs"`
	RetentionMs      int64 `json:"retentionMs"`
	ShutdownGraceMs  int64 `json:"shutdownGraceMs"`
	PreferBatch      bool  `json:"preferBatch"`
}

// ConnectivityConfig captures probe settings.
type ConnectivityConfig struct {
	ProbeIntervalMs int64 `json:"probeIntervalMs"`
	ProbeTimeoutMs  int64 `json:"probeTimeoutMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Queue: "default",
		Retry: RetryConfig{
			BaseDelayMs: 500,
			Multiplier:  2.0,
			MaxDelayMs:  60_000,
			Jitter:      0.2,
			MaxAttempts: 6,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeoutMs:   30_000,
		},
		Dispatcher: DispatcherConfig{
			ClaimBatch:       32,
			Workers:          4,
			AttemptTimeoutMs: 10_000,
			TickMs:           30_000,
			StaleClaimMs:     60_000,
			RetentionMs:      24 * 60 * 60 * 1000,
			ShutdownGraceMs:  10_000,
		},
		Connectivity: ConnectivityConfig{
			ProbeIntervalMs: 30_000,
			ProbeTimeoutMs:  5_000,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults. Environment overlays are applied separately via FromEnv.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
