// Package probe implements the diagnostic probe drivers: reachability
// (ping), path analysis (traceroute), telemetry (SNMP), and remote
// command execution (SSH). Drivers share one interface and one rule:
// a probe failure is a classified result, never a Go error. Drivers do
// not mutate shared state.
package probe

import (
	"context"
	"time"

	"github.com/HerbHall/netmedic/pkg/models"
)

// Params carries per-invocation probe options. Only the fields relevant
// to the driver's kind are read; zero values fall back to driver defaults.
type Params struct {
	Count         int           // ping: packets to send
	PacketGap     time.Duration // ping: spacing between packets
	HopLimit      int           // traceroute: maximum hops
	PerHopTimeout time.Duration // traceroute: wait per hop
	OIDs          []string      // snmp: OID set to fetch
	Command       string        // ssh: concrete command line (already allow-list resolved)
}

// Driver is the uniform probe interface. Run blocks until the probe
// completes or ctx expires; drivers must observe cancellation promptly
// and return a result classified Timeout or Cancelled rather than hang.
type Driver interface {
	Kind() models.ProbeKind
	Run(ctx context.Context, dev models.Device, params Params) *models.ProbeResult
}

// SNMPCredential holds the fields needed for SNMP authentication.
type SNMPCredential struct {
	Type string // "snmp_v2c" or "snmp_v3"

	// SNMPv2c fields.
	Community string

	// SNMPv3 fields.
	Username          string
	AuthProtocol      string // "MD5", "SHA", "SHA-256"
	AuthPassphrase    string
	PrivacyProtocol   string // "DES", "AES", "AES-256"
	PrivacyPassphrase string
	SecurityLevel     string // "noAuthNoPriv", "authNoPriv", "authPriv"
}

// SSHCredential holds the fields needed for SSH authentication.
type SSHCredential struct {
	Username      string
	Password      string
	PrivateKeyPEM string
	Port          int // 0 means 22
}

// Credentials resolves opaque credential references from device records.
// Defined here (consumer-side) to avoid importing the inventory package.
type Credentials interface {
	SNMP(ref string) (*SNMPCredential, error)
	SSH(ref string) (*SSHCredential, error)
}

// newResult initializes the common fields of a probe result.
func newResult(dev models.Device, kind models.ProbeKind) (*models.ProbeResult, time.Time) {
	start := time.Now()
	return &models.ProbeResult{
		DeviceID:  dev.ID,
		Kind:      kind,
		Timestamp: start.UTC(),
	}, start
}

// fail finalizes res as a classified failure.
func fail(res *models.ProbeResult, start time.Time, kind models.ErrorKind, msg string) *models.ProbeResult {
	res.Duration = time.Since(start)
	res.Success = false
	res.Error = kind
	res.ErrorMessage = msg
	return res
}

// ctxErrorKind maps a context error to the probe error taxonomy.
// Deadline expiry is a Timeout; explicit cancellation (shutdown) is
// Cancelled and produces no diagnostic event downstream.
func ctxErrorKind(ctx context.Context) models.ErrorKind {
	if ctx.Err() == context.DeadlineExceeded {
		return models.ErrTimeout
	}
	return models.ErrCancelled
}
