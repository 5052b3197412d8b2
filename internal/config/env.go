package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file into the process environment when present.
// A missing file is not an error.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// FromEnv overlays RELAY_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RELAY_QUEUE"); v != "" {
		cfg.Queue = v
	}
	if v := os.Getenv("RELAY_MAX_PENDING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPending = n
		}
	}
	if v := os.Getenv("RELAY_SINK_TYPE"); v != "" {
		cfg.Sink.Type = v
	}
	if v := os.Getenv("RELAY_SINK_URL"); v != "" {
		cfg.Sink.URL = v
	}
	if v := os.Getenv("RELAY_SINK_BROKERS"); v != "" {
		parts := strings.Split(v, ",")
		cfg.Sink.Brokers = nil
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Sink.Brokers = append(cfg.Sink.Brokers, p)
			}
		}
	}
	if v := os.Getenv("RELAY_SINK_TOPIC"); v != "" {
		cfg.Sink.Topic = v
	}
	if v := os.Getenv("RELAY_SINK_PROBE_ADDR"); v != "" {
		cfg.Sink.ProbeAddr = v
	}
	if v := os.Getenv("RELAY_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = int32(n)
		}
	}
	if v := os.Getenv("RELAY_RETRY_BASE_DELAY_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Retry.BaseDelayMs = n
		}
	}
	if v := os.Getenv("RELAY_RETRY_MAX_DELAY_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Retry.MaxDelayMs = n
		}
	}
	if v := os.Getenv("RELAY_RETRY_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.Multiplier = f
		}
	}
	if v := os.Getenv("RELAY_RETRY_JITTER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.Jitter = f
		}
	}
	if v := os.Getenv("RELAY_RETRY_CLASSIFY"); v != "" {
		cfg.Retry.Classify = v
	}
	if v := os.Getenv("RELAY_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("RELAY_BREAKER_RESET_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Breaker.ResetTimeoutMs = n
		}
	}
	if v := os.Getenv("RELAY_DISPATCH_CLAIM_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatcher.ClaimBatch = n
		}
	}
	if v := os.Getenv("RELAY_DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Dispatcher.Workers = n
		}
	}
	if v := os.Getenv("RELAY_DISPATCH_TICK_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Dispatcher.TickMs = n
		}
	}
	if v := os.Getenv("RELAY_DISPATCH_ATTEMPT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Dispatcher.AttemptTimeoutMs = n
		}
	}
	if v := os.Getenv("RELAY_DISPATCH_STALE_CLAIM_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Dispatcher.StaleClaimMs = n
		}
	}
	if v := os.Getenv("RELAY_DISPATCH_RETENTION_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Dispatcher.RetentionMs = n
		}
	}
	if v := os.Getenv("RELAY_DISPATCH_SHUTDOWN_GRACE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Dispatcher.ShutdownGraceMs = n
		}
	}
	if v := os.Getenv("RELAY_DISPATCH_PREFER_BATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dispatcher.PreferBatch = b
		}
	}
	if v := os.Getenv("RELAY_PROBE_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Connectivity.ProbeIntervalMs = n
		}
	}
	if v := os.Getenv("RELAY_PROBE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Connectivity.ProbeTimeoutMs = n
		}
	}
}
