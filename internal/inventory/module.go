package inventory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/probe"
	"github.com/HerbHall/netmedic/pkg/models"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin     = (*Module)(nil)
	_ probe.Credentials = (*Module)(nil)
)

// Module implements the inventory plugin. It loads the device list and
// credential table from configuration, maintains the device registry,
// and resolves credential references and allow-listed commands for the
// other modules.
type Module struct {
	logger   *zap.Logger
	config   plugin.Config
	registry *Registry

	mu  sync.RWMutex
	cfg Config
}

// New creates a new inventory plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:        "inventory",
		Version:     "0.1.0",
		Description: "Device registry, credentials, and command allow-list",
		Required:    true,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.config = deps.Config
	m.logger = deps.Logger
	m.registry = NewRegistry(deps.Logger)

	if err := m.Reload(); err != nil {
		return err
	}
	if m.registry.Size() == 0 {
		m.logger.Warn("no devices configured")
	}

	m.logger.Info("inventory module initialized",
		zap.Int("devices", m.registry.Size()),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	return nil
}

// Registry exposes the device arena to the other modules.
func (m *Module) Registry() *Registry {
	return m.registry
}

// Reload re-reads the module's configuration section and reconciles the
// registry against it. Invalid configuration leaves the running state
// untouched.
func (m *Module) Reload() error {
	var cfg Config
	if err := m.config.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal inventory config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid inventory config: %w", err)
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	added, updated, deactivated := m.registry.Apply(cfg.Devices)
	if added+updated+deactivated > 0 {
		m.logger.Info("inventory reconciled",
			zap.Int("added", added),
			zap.Int("updated", updated),
			zap.Int("deactivated", deactivated),
		)
	}
	return nil
}

// SNMP resolves an SNMP credential reference. Implements probe.Credentials.
func (m *Module) SNMP(ref string) (*probe.SNMPCredential, error) {
	m.mu.RLock()
	spec, ok := m.cfg.Credentials[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown credential %q", ref)
	}
	if spec.Type != "snmp_v2c" && spec.Type != "snmp_v3" {
		return nil, fmt.Errorf("credential %q is not an snmp credential", ref)
	}
	return &probe.SNMPCredential{
		Type:              spec.Type,
		Community:         spec.Community,
		Username:          spec.Username,
		AuthProtocol:      spec.AuthProtocol,
		AuthPassphrase:    spec.AuthPassphrase,
		PrivacyProtocol:   spec.PrivacyProtocol,
		PrivacyPassphrase: spec.PrivacyPassphrase,
		SecurityLevel:     spec.SecurityLevel,
	}, nil
}

// SSH resolves an SSH credential reference. Implements probe.Credentials.
func (m *Module) SSH(ref string) (*probe.SSHCredential, error) {
	m.mu.RLock()
	spec, ok := m.cfg.Credentials[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown credential %q", ref)
	}
	if spec.Type != "ssh" {
		return nil, fmt.Errorf("credential %q is not an ssh credential", ref)
	}
	return &probe.SSHCredential{
		Username:      spec.Username,
		Password:      spec.Password,
		PrivateKeyPEM: spec.PrivateKeyPEM,
		Port:          spec.Port,
	}, nil
}

// ResolveCommand maps a command name to the concrete command line for a
// device, consulting the per-type allow-list with a generic fallback.
func (m *Module) ResolveCommand(devType models.DeviceType, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return resolveCommand(m.cfg.Commands, devType, name)
}
