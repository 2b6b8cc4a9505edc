package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/probe"
	"github.com/HerbHall/netmedic/pkg/models"
)

// DeviceLookup resolves device snapshots for remediation targets.
// Defined consumer-side; the inventory registry satisfies it.
type DeviceLookup interface {
	Snapshot(id string) (models.Device, models.HealthSnapshot, bool)
}

// CommandResolver maps allow-listed command names to concrete command
// lines for a device type.
type CommandResolver interface {
	ResolveCommand(devType models.DeviceType, name string) (string, error)
}

// Executor runs remediation commands on devices.
type Executor interface {
	// Execute runs the named allow-listed command on the device.
	// Returns the probe result for the run; a Go error means the command
	// never reached the device (unknown device, unlisted command).
	Execute(ctx context.Context, deviceID, command string) (*models.ProbeResult, error)
}

// Compile-time interface guard.
var _ Executor = (*SSHExecutor)(nil)

// SSHExecutor applies remediation over SSH through the probe driver, so
// remediation runs share the same credential resolution, timeouts, and
// error taxonomy as diagnostic checks.
type SSHExecutor struct {
	devices  DeviceLookup
	commands CommandResolver
	driver   probe.Driver
	logger   *zap.Logger
}

// NewSSHExecutor creates an executor over the given SSH driver.
func NewSSHExecutor(devices DeviceLookup, commands CommandResolver, driver probe.Driver, logger *zap.Logger) *SSHExecutor {
	return &SSHExecutor{
		devices:  devices,
		commands: commands,
		driver:   driver,
		logger:   logger,
	}
}

// Execute resolves the device and command, then runs it.
func (e *SSHExecutor) Execute(ctx context.Context, deviceID, command string) (*models.ProbeResult, error) {
	dev, _, ok := e.devices.Snapshot(deviceID)
	if !ok {
		return nil, fmt.Errorf("unknown device %q", deviceID)
	}

	line, err := e.commands.ResolveCommand(dev.Type, command)
	if err != nil {
		return nil, err
	}

	e.logger.Info("executing remediation",
		zap.String("device_id", deviceID),
		zap.String("command", command),
	)
	return e.driver.Run(ctx, dev, probe.Params{Command: line}), nil
}
