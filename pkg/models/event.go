package models

import (
	"fmt"
	"time"
)

// Classification is the normalized diagnosis derived from a probe result.
type Classification string

const (
	ClassOK              Classification = "ok"
	ClassLatencyDegraded Classification = "latency_degraded"
	ClassPacketLoss      Classification = "packet_loss"
	ClassUnreachable     Classification = "unreachable"
	ClassTimeout         Classification = "timeout"
	ClassAuthFailure     Classification = "auth_failure"
	ClassProtocolError   Classification = "protocol_error"
	ClassInterfaceDown   Classification = "interface_down"
	ClassFlapping        Classification = "flapping"
	ClassDispatchFailed  Classification = "dispatch_failed"
)

// Failure reports whether the classification represents a failed check.
func (c Classification) Failure() bool {
	return c != ClassOK && c != ""
}

// EventKey is the stable deduplication key for a diagnostic event.
type EventKey struct {
	DeviceID       string         `json:"device_id"`
	Kind           ProbeKind      `json:"kind"`
	Classification Classification `json:"classification"`
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DeviceID, k.Kind, k.Classification)
}

// DiagnosticEvent is the normalized projection of a probe result.
// Immutable, append-only on the event bus. Params feeds rule predicate
// evaluation and must only contain comparable scalar values.
type DiagnosticEvent struct {
	ID        string         `json:"id"`
	Key       EventKey       `json:"key"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Params    map[string]any `json:"params,omitempty"`

	// Result is the originating probe result, nil for synthetic events
	// (dispatch failures).
	Result *ProbeResult `json:"result,omitempty"`
}
