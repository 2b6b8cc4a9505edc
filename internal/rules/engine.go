package rules

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/pkg/models"
)

// coolKey scopes cooldown and execution counts per (device, rule) pair,
// so one noisy device cannot silence a rule for the whole fleet.
type coolKey struct {
	deviceID string
	ruleID   string
}

// Engine evaluates diagnostic events against the rule set and produces
// directives. Evaluation order is priority descending with definition
// order breaking ties; the first matching rule wins, except that a
// chained escalation continues at strictly lower priority.
type Engine struct {
	logger *zap.Logger

	mu        sync.Mutex
	rules     []*Rule // sorted: priority desc, then definition order
	cooling   map[coolKey]time.Time
	execCount map[coolKey]int
	now       func() time.Time
}

// NewEngine creates an engine with the given compiled rule set.
func NewEngine(ruleSet []*Rule, logger *zap.Logger) *Engine {
	e := &Engine{
		logger:    logger,
		cooling:   make(map[coolKey]time.Time),
		execCount: make(map[coolKey]int),
		now:       time.Now,
	}
	e.SetRules(ruleSet)
	return e
}

// SetRules atomically swaps the rule set. Cooldown state survives the
// swap so a reload does not re-fire suppressed rules.
func (e *Engine) SetRules(ruleSet []*Rule) {
	sorted := make([]*Rule, len(ruleSet))
	copy(sorted, ruleSet)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].order < sorted[j].order
	})

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules)
}

// Evaluate matches one event against the rule set and returns the
// resulting directives. Most events yield zero or one directive; a
// chained escalation can yield more.
func (e *Engine) Evaluate(ev *models.DiagnosticEvent) []models.Directive {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	deviceID := ev.Key.DeviceID
	var out []models.Directive

	// floor excludes rules at or above an already-matched priority when
	// a chained escalation continues the scan.
	const noFloor = int(^uint(0) >> 1)
	floor := noFloor

	for _, r := range e.rules {
		if r.Priority >= floor {
			continue
		}

		key := coolKey{deviceID: deviceID, ruleID: r.ID}
		if until, ok := e.cooling[key]; ok && now.Before(until) {
			continue
		}
		if r.MaxExecutions > 0 && e.execCount[key] >= r.MaxExecutions {
			continue
		}

		matched, err := e.match(r, ev)
		if err != nil {
			// A predicate that cannot evaluate against this event's
			// params simply does not match it.
			e.logger.Debug("predicate evaluation failed",
				zap.String("rule_id", r.ID),
				zap.String("event", ev.Key.String()),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}

		if r.Cooldown > 0 {
			e.cooling[key] = now.Add(r.Cooldown)
		}
		e.execCount[key]++

		out = append(out, models.Directive{
			ID:        uuid.NewString(),
			RuleID:    r.ID,
			DeviceID:  deviceID,
			Action:    r.Action,
			Trigger:   *ev,
			CreatedAt: now,
		})

		e.logger.Info("rule fired",
			zap.String("rule_id", r.ID),
			zap.String("device_id", deviceID),
			zap.String("classification", string(ev.Key.Classification)),
			zap.String("action", string(r.Action.Type)),
		)

		if r.Action.Type == models.ActionEscalate && r.Action.Chain {
			floor = r.Priority
			continue
		}
		break
	}

	return out
}

func (e *Engine) match(r *Rule, ev *models.DiagnosticEvent) (bool, error) {
	result, err := r.expr.Evaluate(ev.Params)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, errNonBoolean
	}
	return b, nil
}

// Sweep drops expired cooldown entries. Called periodically so the
// cooling map stays proportional to active suppressions, not history.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for key, until := range e.cooling {
		if !now.Before(until) {
			delete(e.cooling, key)
			removed++
		}
	}
	return removed
}

// ResetCooling clears all cooldown and execution-count state for a
// device, typically after a confirmed repair.
func (e *Engine) ResetCooling(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key := range e.cooling {
		if key.deviceID == deviceID {
			delete(e.cooling, key)
		}
	}
	for key := range e.execCount {
		if key.deviceID == deviceID {
			delete(e.execCount, key)
		}
	}
}

type evalError string

func (e evalError) Error() string { return string(e) }

const errNonBoolean = evalError("predicate did not evaluate to a boolean")
