// Package inventory owns the device registry: the process-wide map of
// device identity to configuration and last-known health. Reads hand out
// copies; health writes are serialized per device so concurrent probe
// completions never race on the same entry.
package inventory

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/pkg/models"
)

// entry pairs a device with its health under a per-entry lock.
type entry struct {
	mu     sync.RWMutex
	dev    models.Device
	health models.HealthSnapshot
}

// Registry is the device arena. The outer map is guarded by mu; each
// entry carries its own lock for health mutation.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // insertion order, for stable iteration
	logger  *zap.Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Apply reconciles the registry against a configuration snapshot.
// New devices are added, existing ones updated in place, and devices
// missing from the snapshot are marked inactive. Nothing is ever
// deleted during a run. Safe to call between scheduling ticks.
func (r *Registry) Apply(devices []models.Device) (added, updated, deactivated int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		d.Active = true
		seen[d.ID] = true

		e, ok := r.entries[d.ID]
		if !ok {
			r.entries[d.ID] = &entry{
				dev:    d,
				health: models.HealthSnapshot{State: models.HealthUnknown},
			}
			r.order = append(r.order, d.ID)
			added++
			continue
		}

		e.mu.Lock()
		if !deviceEqual(e.dev, d) {
			e.dev = d
			updated++
		} else if !e.dev.Active {
			e.dev.Active = true
			updated++
		}
		e.mu.Unlock()
	}

	for _, id := range r.order {
		if seen[id] {
			continue
		}
		e := r.entries[id]
		e.mu.Lock()
		if e.dev.Active {
			e.dev.Active = false
			deactivated++
			r.logger.Info("device deactivated", zap.String("device_id", id))
		}
		e.mu.Unlock()
	}

	return added, updated, deactivated
}

// Snapshot returns copies of the device and its health. The copies are
// safe to retain and mutate.
func (r *Registry) Snapshot(id string) (models.Device, models.HealthSnapshot, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return models.Device{}, models.HealthSnapshot{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyDevice(e.dev), e.health, true
}

// ActiveDevices returns copies of all active devices in insertion order.
func (r *Registry) ActiveDevices() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		e.mu.RLock()
		if e.dev.Active {
			out = append(out, copyDevice(e.dev))
		}
		e.mu.RUnlock()
	}
	return out
}

// UpdateHealth applies fn to the device's health snapshot under the
// entry lock. The snapshot's UpdatedAt is stamped after fn runs.
// Returns false if the device is unknown.
func (r *Registry) UpdateHealth(id string, fn func(h *models.HealthSnapshot)) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	fn(&e.health)
	e.health.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()
	return true
}

// Size returns the total number of registered devices, active or not.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func copyDevice(d models.Device) models.Device {
	out := d
	out.Checks = make([]models.CheckSpec, len(d.Checks))
	copy(out.Checks, d.Checks)
	for i := range out.Checks {
		if len(d.Checks[i].OIDs) > 0 {
			out.Checks[i].OIDs = append([]string(nil), d.Checks[i].OIDs...)
		}
	}
	return out
}

func deviceEqual(a, b models.Device) bool {
	if a.ID != b.ID || a.Hostname != b.Hostname || a.Address != b.Address ||
		a.Type != b.Type || a.SNMPCredential != b.SNMPCredential ||
		a.SSHCredential != b.SSHCredential || len(a.Checks) != len(b.Checks) {
		return false
	}
	for i := range a.Checks {
		ac, bc := a.Checks[i], b.Checks[i]
		if ac.Kind != bc.Kind || ac.Interval != bc.Interval || ac.Count != bc.Count ||
			ac.HopLimit != bc.HopLimit || ac.Command != bc.Command || len(ac.OIDs) != len(bc.OIDs) {
			return false
		}
		for j := range ac.OIDs {
			if ac.OIDs[j] != bc.OIDs[j] {
				return false
			}
		}
	}
	return true
}
