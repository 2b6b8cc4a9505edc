package models

import "time"

// ProbeKind identifies one diagnostic probe family.
type ProbeKind string

const (
	KindPing       ProbeKind = "ping"
	KindTraceroute ProbeKind = "traceroute"
	KindSNMP       ProbeKind = "snmp"
	KindSSH        ProbeKind = "ssh"

	// KindDispatch marks synthetic events the dispatcher feeds back onto
	// the bus when a directive exhausts its delivery attempts.
	KindDispatch ProbeKind = "dispatch"
)

// ErrorKind classifies a probe failure. Probe failures are results, not
// Go errors: a failed probe is itself diagnostic information.
type ErrorKind string

const (
	ErrNone          ErrorKind = ""
	ErrTimeout       ErrorKind = "timeout"
	ErrUnreachable   ErrorKind = "unreachable"
	ErrAuthFailure   ErrorKind = "auth_failure"
	ErrProtocolError ErrorKind = "protocol_error"
	ErrCancelled     ErrorKind = "cancelled"
)

// Retriable reports whether the scheduler should retry a probe that
// failed with this kind. Auth and protocol failures are deterministic
// and retrying them only adds load.
func (e ErrorKind) Retriable() bool {
	return e == ErrTimeout || e == ErrUnreachable
}

// PingStats carries reachability probe metrics.
type PingStats struct {
	PacketsSent int           `json:"packets_sent"`
	PacketsRecv int           `json:"packets_recv"`
	LossPercent float64       `json:"loss_percent"`
	MinRTT      time.Duration `json:"min_rtt"`
	AvgRTT      time.Duration `json:"avg_rtt"`
	MaxRTT      time.Duration `json:"max_rtt"`
}

// TraceHop is one hop in a traceroute path.
type TraceHop struct {
	TTL     int           `json:"ttl"`
	Address string        `json:"address,omitempty"`
	RTT     time.Duration `json:"rtt,omitempty"`
	Timeout bool          `json:"timeout,omitempty"`
}

// TraceResult carries path analysis output.
type TraceResult struct {
	Hops    []TraceHop `json:"hops"`
	Reached bool       `json:"reached"`
}

// SNMPValues carries telemetry fetched from a device.
type SNMPValues struct {
	// Values maps OID -> decoded value.
	Values map[string]any `json:"values"`
	// InterfacesDown lists interface descriptions with ifOperStatus=down
	// while ifAdminStatus=up, derived from the IF-MIB walk.
	InterfacesDown []string `json:"interfaces_down,omitempty"`
}

// SSHOutput carries remote command execution output.
type SSHOutput struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// ProbeResult is the tagged union over probe outcomes. Exactly one of the
// payload pointers matching Kind is set on success; on failure Error and
// ErrorMessage describe the classification. Immutable once produced.
type ProbeResult struct {
	DeviceID  string        `json:"device_id"`
	Kind      ProbeKind     `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`

	Error        ErrorKind `json:"error,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	Ping  *PingStats   `json:"ping,omitempty"`
	Trace *TraceResult `json:"trace,omitempty"`
	SNMP  *SNMPValues  `json:"snmp,omitempty"`
	SSH   *SSHOutput   `json:"ssh,omitempty"`
}
