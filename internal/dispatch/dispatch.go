// Package dispatch consumes directives from the rules engine and carries
// them out: notifications through configurable channels, remediation
// through allow-listed SSH commands. Delivery is exactly-once per
// directive with per-device ordering.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/probe"
	"github.com/HerbHall/netmedic/internal/rules"
	"github.com/HerbHall/netmedic/pkg/models"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.Plugin = (*Module)(nil)

// Module implements the dispatcher plugin.
type Module struct {
	logger     *zap.Logger
	cfg        DispatchConfig
	dispatcher *Dispatcher

	devices  DeviceLookup
	creds    probe.Credentials
	commands CommandResolver

	unsubscribe func()
}

// New creates a dispatch plugin over the given inventory views.
func New(devices DeviceLookup, creds probe.Credentials, commands CommandResolver) *Module {
	return &Module{devices: devices, creds: creds, commands: commands}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:         "dispatch",
		Version:      "0.1.0",
		Description:  "Directive delivery and automated remediation",
		Dependencies: []string{"rules"},
		Required:     true,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if err := deps.Config.Unmarshal(&m.cfg); err != nil {
		return err
	}

	notifiers := []Notifier{NewLogNotifier(deps.Logger.Named("notify"))}
	if m.cfg.Webhook != nil && m.cfg.Webhook.URL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(*m.cfg.Webhook))
	}
	if m.cfg.Email != nil && m.cfg.Email.SMTPHost != "" {
		notifiers = append(notifiers, NewEmailNotifier(*m.cfg.Email))
	}

	executor := NewSSHExecutor(
		m.devices,
		m.commands,
		probe.NewSSHDriver(m.creds, deps.Logger.Named("ssh")),
		deps.Logger,
	)

	m.dispatcher = NewDispatcher(m.cfg, notifiers, executor, deps.Bus, deps.Logger)

	channels := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		channels = append(channels, n.Type())
	}
	m.logger.Info("dispatch module initialized",
		zap.Strings("channels", channels),
		zap.Int("max_attempts", m.cfg.MaxAttempts),
	)

	m.unsubscribe = deps.Bus.Subscribe(rules.TopicDirective, m.handleDirective,
		plugin.WithName("dispatch"),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	m.dispatcher.Start(ctx)
	m.logger.Info("dispatch module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.dispatcher.Stop()
	m.logger.Info("dispatch module stopped")
	return nil
}

func (m *Module) handleDirective(ctx context.Context, event plugin.Event) {
	d, ok := event.Payload.(models.Directive)
	if !ok {
		m.logger.Warn("unexpected payload on directive topic")
		return
	}
	m.dispatcher.Enqueue(d)
}
