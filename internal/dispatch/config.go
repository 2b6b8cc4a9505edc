package dispatch

import "time"

// DispatchConfig tunes directive delivery.
type DispatchConfig struct {
	// MaxAttempts bounds delivery tries per directive, first try included.
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// ActionTimeout bounds one delivery or remediation attempt.
	ActionTimeout time.Duration `mapstructure:"action_timeout"`

	// QueueSize bounds each per-device directive queue.
	QueueSize int `mapstructure:"queue_size"`

	// NotifyRatePerMinute throttles each notification channel.
	NotifyRatePerMinute int `mapstructure:"notify_rate_per_minute"`
	NotifyBurst         int `mapstructure:"notify_burst"`

	Webhook *WebhookConfig `mapstructure:"webhook"`
	Email   *EmailConfig   `mapstructure:"email"`
}

func DefaultConfig() DispatchConfig {
	return DispatchConfig{
		MaxAttempts:         3,
		RetryBackoff:        5 * time.Second,
		ActionTimeout:       30 * time.Second,
		QueueSize:           64,
		NotifyRatePerMinute: 30,
		NotifyBurst:         10,
	}
}
