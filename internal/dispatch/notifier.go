package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/pkg/models"
)

// Notification is the rendered message handed to a channel notifier.
type Notification struct {
	DirectiveID string          `json:"directive_id"`
	RuleID      string          `json:"rule_id"`
	DeviceID    string          `json:"device_id"`
	Severity    models.Severity `json:"severity"`
	Message     string          `json:"message"`
}

// Notifier delivers notifications through a specific channel type.
type Notifier interface {
	// Notify sends one notification. Errors are retriable; the
	// dispatcher owns the retry policy.
	Notify(ctx context.Context, n *Notification) error
	// Type returns the notifier type identifier (e.g., "webhook", "email", "log").
	Type() string
}

// WebhookConfig holds configuration for webhook notification delivery.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"` //nolint:gosec // G101: config field name, not a credential
	Headers map[string]string `mapstructure:"headers"`
}

// EmailConfig holds configuration for email notification delivery.
type EmailConfig struct {
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Compile-time interface guard.
var _ Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the log. The default channel when
// nothing else is configured, and the safety net for unknown channels.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n *Notification) error {
	l.logger.Warn("notification",
		zap.String("severity", string(n.Severity)),
		zap.String("device_id", n.DeviceID),
		zap.String("rule_id", n.RuleID),
		zap.String("message", n.Message),
	)
	return nil
}

func (l *LogNotifier) Type() string { return "log" }
