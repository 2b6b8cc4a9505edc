// Package diag schedules diagnostic probes against the device inventory
// and turns their results into normalized diagnostic events on the bus.
package diag

import (
	"context"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/probe"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.Plugin = (*Module)(nil)

// Module implements the diagnostic engine plugin.
type Module struct {
	logger    *zap.Logger
	cfg       DiagConfig
	scheduler *Scheduler

	devices  DeviceSource
	creds    probe.Credentials
	commands CommandResolver
}

// New creates a diag plugin over the given inventory views.
func New(devices DeviceSource, creds probe.Credentials, commands CommandResolver) *Module {
	return &Module{devices: devices, creds: creds, commands: commands}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:         "diag",
		Version:      "0.1.0",
		Description:  "Probe scheduling and diagnostic event generation",
		Dependencies: []string{"inventory"},
		Required:     true,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if err := deps.Config.Unmarshal(&m.cfg); err != nil {
		return err
	}

	drivers := []probe.Driver{
		probe.NewPingDriver(m.cfg.PingCount, deps.Logger.Named("ping")),
		probe.NewTracerouteDriver(deps.Logger.Named("traceroute")),
		probe.NewSNMPDriver(m.creds, deps.Logger.Named("snmp")),
		probe.NewSSHDriver(m.creds, deps.Logger.Named("ssh")),
	}

	m.scheduler = NewScheduler(
		m.cfg,
		m.devices,
		m.commands,
		drivers,
		NewNormalizer(m.cfg),
		deps.Bus,
		deps.Logger,
	)

	m.logger.Info("diag module initialized",
		zap.Duration("tick_interval", m.cfg.TickInterval),
		zap.Int("max_concurrency", m.cfg.MaxConcurrency),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	m.scheduler.Start(ctx)
	m.logger.Info("diag module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	m.scheduler.Stop()
	m.logger.Info("diag module stopped")
	return nil
}
