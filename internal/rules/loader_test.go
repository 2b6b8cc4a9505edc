package rules

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/pkg/models"
)

func TestParseValidRules(t *testing.T) {
	doc := `
rules:
  - id: device-down
    description: escalate after repeated unreachability
    priority: 100
    when: "classification == 'unreachable' && consecutive_failures >= 3"
    cooldown: 5m
    action:
      type: escalate
      channel: oncall
      severity: critical
      chain: true
  - id: high-latency
    priority: 10
    when: "classification == 'latency_degraded'"
    max_executions: 4
    action:
      type: notify
      channel: netops
`
	rules, err := Parse([]byte(doc), zap.NewNop())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len = %d, want 2", len(rules))
	}

	r := rules[0]
	if r.ID != "device-down" || r.Priority != 100 {
		t.Errorf("rule 0 = %q prio %d", r.ID, r.Priority)
	}
	if r.Cooldown != 5*time.Minute {
		t.Errorf("cooldown = %v, want 5m", r.Cooldown)
	}
	if r.Action.Type != models.ActionEscalate || !r.Action.Chain {
		t.Errorf("action = %+v, want chained escalate", r.Action)
	}
	if r.Action.Severity != models.SeverityCritical {
		t.Errorf("severity = %q", r.Action.Severity)
	}

	r = rules[1]
	if r.MaxExecutions != 4 {
		t.Errorf("max executions = %d, want 4", r.MaxExecutions)
	}
	if r.Action.Severity != models.SeverityMedium {
		t.Errorf("severity = %q, want medium default", r.Action.Severity)
	}
}

func TestParseSkipsInvalidRules(t *testing.T) {
	doc := `
rules:
  - id: ""
    when: "success == false"
    action: {type: notify, channel: x}
  - id: no-predicate
    action: {type: notify, channel: x}
  - id: bad-predicate
    when: "classification =="
    action: {type: notify, channel: x}
  - id: notify-no-channel
    when: "success == false"
    action: {type: notify}
  - id: remediate-no-command
    when: "success == false"
    action: {type: remediate}
  - id: unknown-action
    when: "success == false"
    action: {type: reboot-the-moon}
  - id: bad-cooldown
    when: "success == false"
    cooldown: soonish
    action: {type: notify, channel: x}
  - id: survivor
    when: "success == false"
    action: {type: notify, channel: x}
`
	rules, err := Parse([]byte(doc), zap.NewNop())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "survivor" {
		t.Fatalf("rules = %v, want only the survivor", ruleIDs(rules))
	}
}

func TestParseSkipsDuplicateIDs(t *testing.T) {
	doc := `
rules:
  - id: twin
    priority: 1
    when: "success == false"
    action: {type: notify, channel: a}
  - id: twin
    priority: 2
    when: "success == false"
    action: {type: notify, channel: b}
`
	rules, err := Parse([]byte(doc), zap.NewNop())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("len = %d, want 1", len(rules))
	}
	if rules[0].Action.Channel != "a" {
		t.Errorf("kept channel %q, want the first definition", rules[0].Action.Channel)
	}
}

func TestParseFailsWithZeroValidRules(t *testing.T) {
	doc := `
rules:
  - id: broken
    action: {type: notify, channel: x}
`
	_, err := Parse([]byte(doc), zap.NewNop())
	if err == nil {
		t.Fatal("Parse = nil error, want failure for empty valid set")
	}
	if !strings.Contains(err.Error(), "no valid rules") {
		t.Errorf("error = %v", err)
	}
}

func TestParseFailsOnBadYAML(t *testing.T) {
	if _, err := Parse([]byte("rules: [}"), zap.NewNop()); err == nil {
		t.Fatal("Parse accepted malformed yaml")
	}
}

func ruleIDs(rules []*Rule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
