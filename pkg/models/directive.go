package models

import "time"

// Severity orders notification urgency, lowest to highest.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ActionType selects what a matched rule does.
type ActionType string

const (
	ActionNotify    ActionType = "notify"
	ActionRemediate ActionType = "remediate"
	ActionEscalate  ActionType = "escalate"
)

// Action is the tagged variant carried by a rule and its directives.
type Action struct {
	Type ActionType `json:"type" yaml:"type"`

	// Notify / Escalate fields.
	Channel  string   `json:"channel,omitempty" yaml:"channel"`
	Severity Severity `json:"severity,omitempty" yaml:"severity"`

	// Remediate fields. Command is an allow-list entry name, never
	// freeform text.
	Command string `json:"command,omitempty" yaml:"command"`

	// Chain lets an Escalate action fall through to the next
	// lower-priority rule for the same event.
	Chain bool `json:"chain,omitempty" yaml:"chain"`
}

// Directive instructs the dispatcher to notify or act. Created by the
// rules engine, consumed exactly once by the dispatcher, then discarded.
type Directive struct {
	ID        string          `json:"id"`
	RuleID    string          `json:"rule_id"`
	DeviceID  string          `json:"device_id"`
	Action    Action          `json:"action"`
	Trigger   DiagnosticEvent `json:"trigger"`
	CreatedAt time.Time       `json:"created_at"`
}
