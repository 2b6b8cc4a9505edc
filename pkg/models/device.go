// Package models holds the shared domain model passed between netmedic
// modules: devices, probe results, diagnostic events, and directives.
package models

import "time"

// DeviceType tags the kind of network device being monitored.
type DeviceType string

const (
	DeviceRouter  DeviceType = "router"
	DeviceSwitch  DeviceType = "switch"
	DeviceHost    DeviceType = "host"
	DeviceGeneric DeviceType = "generic"
)

// HealthState summarizes the last observed condition of a device.
type HealthState string

const (
	HealthUnknown  HealthState = "unknown"
	HealthUp       HealthState = "up"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// CheckSpec configures one recurring probe against a device.
type CheckSpec struct {
	Kind     ProbeKind     `json:"kind" mapstructure:"kind"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`

	// Per-kind options. Zero values fall back to scheduler defaults.
	Count    int      `json:"count,omitempty" mapstructure:"count"`         // ping packet count
	HopLimit int      `json:"hop_limit,omitempty" mapstructure:"hop_limit"` // traceroute max hops
	OIDs     []string `json:"oids,omitempty" mapstructure:"oids"`           // snmp OID set
	Command  string   `json:"command,omitempty" mapstructure:"command"`     // ssh allow-listed command name
}

// Device is one monitored network element. Credential fields are opaque
// references into the credential section of the configuration, never
// embedded secrets.
type Device struct {
	ID       string     `json:"id" mapstructure:"id"`
	Hostname string     `json:"hostname" mapstructure:"hostname"`
	Address  string     `json:"address" mapstructure:"address"`
	Type     DeviceType `json:"type" mapstructure:"type"`

	SNMPCredential string `json:"snmp_credential,omitempty" mapstructure:"snmp_credential"`
	SSHCredential  string `json:"ssh_credential,omitempty" mapstructure:"ssh_credential"`

	Checks []CheckSpec `json:"checks" mapstructure:"checks"`

	// Active is false for devices removed from configuration. Inactive
	// devices are retained (never deleted mid-run) but not probed.
	Active bool `json:"active"`
}

// HealthSnapshot is the last-known health of a device. Snapshots are
// last-write-wins by probe completion time.
type HealthSnapshot struct {
	State          HealthState    `json:"state"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastKind       ProbeKind      `json:"last_kind,omitempty"`
	LatencyMs      float64        `json:"latency_ms,omitempty"`
	PacketLossPct  float64        `json:"packet_loss_pct,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	Classification Classification `json:"classification,omitempty"`
}
