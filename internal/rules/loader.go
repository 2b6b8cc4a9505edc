package rules

import (
	"fmt"
	"os"
	"time"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/netmedic/pkg/models"
)

// ruleSpec is the YAML shape of one rule definition.
type ruleSpec struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Priority    int    `yaml:"priority"`
	When        string `yaml:"when"`

	// Cooldown is a Go duration string ("90s", "5m"). Empty means none.
	Cooldown string `yaml:"cooldown"`

	// MaxExecutions caps how many directives this rule may ever produce
	// per device. Zero means unlimited.
	MaxExecutions int `yaml:"max_executions"`

	Action models.Action `yaml:"action"`
}

// rulesFile is the top-level YAML document.
type rulesFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// Rule is a compiled, validated rule ready for evaluation.
type Rule struct {
	ID            string
	Description   string
	Priority      int
	Cooldown      time.Duration
	MaxExecutions int
	Action        models.Action

	expr *govaluate.EvaluableExpression
	// order is the definition index, used to break priority ties so
	// evaluation is deterministic across reloads.
	order int
}

// LoadFile reads and compiles a rules file. Individually invalid rules
// are logged and skipped; the load fails only when the file is unreadable,
// unparseable, or yields zero valid rules.
func LoadFile(path string, logger *zap.Logger) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data, logger)
}

// Parse compiles rule definitions from YAML.
func Parse(data []byte, logger *zap.Logger) ([]*Rule, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	seen := make(map[string]bool, len(doc.Rules))
	rules := make([]*Rule, 0, len(doc.Rules))

	for i, spec := range doc.Rules {
		r, err := compile(spec, i)
		if err != nil {
			logger.Warn("rule rejected",
				zap.String("rule_id", spec.ID),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		if seen[r.ID] {
			logger.Warn("rule rejected",
				zap.String("rule_id", r.ID),
				zap.Int("index", i),
				zap.String("reason", "duplicate id"),
			)
			continue
		}
		seen[r.ID] = true
		rules = append(rules, r)
	}

	if len(rules) == 0 {
		return nil, fmt.Errorf("no valid rules in definition set (%d rejected)", len(doc.Rules))
	}
	return rules, nil
}

func compile(spec ruleSpec, order int) (*Rule, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("rule has no id")
	}
	if spec.When == "" {
		return nil, fmt.Errorf("rule has no predicate")
	}

	var cooldown time.Duration
	if spec.Cooldown != "" {
		var err error
		cooldown, err = time.ParseDuration(spec.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("parse cooldown: %w", err)
		}
		if cooldown < 0 {
			return nil, fmt.Errorf("negative cooldown")
		}
	}

	switch spec.Action.Type {
	case models.ActionNotify, models.ActionEscalate:
		if spec.Action.Channel == "" {
			return nil, fmt.Errorf("%s action has no channel", spec.Action.Type)
		}
	case models.ActionRemediate:
		if spec.Action.Command == "" {
			return nil, fmt.Errorf("remediate action has no command")
		}
	default:
		return nil, fmt.Errorf("unknown action type %q", spec.Action.Type)
	}
	if spec.Action.Severity == "" {
		spec.Action.Severity = models.SeverityMedium
	}

	expr, err := govaluate.NewEvaluableExpression(spec.When)
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}

	return &Rule{
		ID:            spec.ID,
		Description:   spec.Description,
		Priority:      spec.Priority,
		Cooldown:      cooldown,
		MaxExecutions: spec.MaxExecutions,
		Action:        spec.Action,
		expr:          expr,
		order:         order,
	}, nil
}
