package dispatch

import (
	"context"
	"fmt"

	mail "gopkg.in/mail.v2"
)

// Compile-time interface guard.
var _ Notifier = (*EmailNotifier)(nil)

// EmailNotifier delivers notifications over SMTP.
type EmailNotifier struct {
	cfg EmailConfig
}

// NewEmailNotifier creates an SMTP-backed notifier.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

// Notify sends the notification as a plain-text email.
func (e *EmailNotifier) Notify(ctx context.Context, n *Notification) error {
	m := mail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", e.cfg.To...)
	m.SetHeader("Subject", fmt.Sprintf("[netmedic][%s] %s", n.Severity, n.DeviceID))
	m.SetBody("text/plain", fmt.Sprintf("rule: %s\ndevice: %s\nseverity: %s\n\n%s\n",
		n.RuleID, n.DeviceID, n.Severity, n.Message))

	d := mail.NewDialer(e.cfg.SMTPHost, e.cfg.SMTPPort, e.cfg.Username, e.cfg.Password)

	// DialAndSend has no context support; run it in a goroutine and let
	// the dialer's own timeout bound the wait when ctx expires first.
	done := make(chan error, 1)
	go func() {
		done <- d.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email via %s:%d: %w", e.cfg.SMTPHost, e.cfg.SMTPPort, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Type returns the notifier type identifier.
func (e *EmailNotifier) Type() string {
	return "email"
}
