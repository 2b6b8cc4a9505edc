package diag

import "time"

// DiagConfig tunes the probe scheduler and result normalizer.
type DiagConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	PingCount      int           `mapstructure:"ping_count"`

	// Retry policy for transient failures. Deterministic failures
	// (auth, protocol) are never retried.
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// Flap detection: a device failing this many consecutive probes,
	// each within the window of the previous failure, is flapping.
	FlapThreshold int           `mapstructure:"flap_threshold"`
	FlapWindow    time.Duration `mapstructure:"flap_window"`

	// Degradation thresholds applied to successful ping probes.
	LatencyDegradedMs float64 `mapstructure:"latency_degraded_ms"`
	PacketLossPct     float64 `mapstructure:"packet_loss_pct"`
}

func DefaultConfig() DiagConfig {
	return DiagConfig{
		TickInterval:      10 * time.Second,
		MaxConcurrency:    10,
		ProbeTimeout:      15 * time.Second,
		PingCount:         3,
		MaxRetries:        2,
		RetryBackoff:      2 * time.Second,
		FlapThreshold:     3,
		FlapWindow:        5 * time.Minute,
		LatencyDegradedMs: 200,
		PacketLossPct:     20,
	}
}
