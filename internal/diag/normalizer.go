package diag

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/netmedic/pkg/models"
)

// streakKey scopes consecutive-failure tracking to one (device, check)
// pair, so unrelated checks against the same device never pool into a
// single streak.
type streakKey struct {
	deviceID string
	kind     models.ProbeKind
}

// streak tracks consecutive probe failures for one (device, check) pair.
type streak struct {
	count    int
	lastFail time.Time
}

// Normalizer projects raw probe results into diagnostic events: it
// classifies the outcome, applies degradation thresholds, and detects
// flapping from consecutive-failure streaks.
type Normalizer struct {
	cfg DiagConfig

	mu      sync.Mutex
	streaks map[streakKey]*streak
}

// NewNormalizer creates a normalizer with the given thresholds.
func NewNormalizer(cfg DiagConfig) *Normalizer {
	return &Normalizer{
		cfg:     cfg,
		streaks: make(map[streakKey]*streak),
	}
}

// Normalize turns a probe result into diagnostic events. The base
// classification always yields one event; a failure streak crossing the
// flap threshold emits a second, flapping-classified event alongside it.
// Returns nil for cancelled probes: shutdown noise is not diagnostic
// information. prior is the device's health state before this result.
func (n *Normalizer) Normalize(dev models.Device, prior models.HealthState, res *models.ProbeResult) []*models.DiagnosticEvent {
	if res.Error == models.ErrCancelled {
		return nil
	}

	class := n.classify(res)
	consecutive := n.track(dev.ID, res.Kind, res.Timestamp, class.Failure())

	events := []*models.DiagnosticEvent{n.event(dev, prior, res, class, consecutive)}
	if class.Failure() && consecutive >= n.cfg.FlapThreshold {
		events = append(events, n.event(dev, prior, res, models.ClassFlapping, consecutive))
	}
	return events
}

func (n *Normalizer) event(dev models.Device, prior models.HealthState, res *models.ProbeResult, class models.Classification, consecutive int) *models.DiagnosticEvent {
	return &models.DiagnosticEvent{
		ID: uuid.NewString(),
		Key: models.EventKey{
			DeviceID:       dev.ID,
			Kind:           res.Kind,
			Classification: class,
		},
		Timestamp: res.Timestamp,
		Message:   message(dev, res, class),
		Params:    params(dev, prior, res, class, consecutive),
		Result:    res,
	}
}

// HealthState maps a classification onto the device health ladder.
func HealthState(class models.Classification) models.HealthState {
	switch class {
	case models.ClassOK:
		return models.HealthUp
	case models.ClassLatencyDegraded, models.ClassPacketLoss, models.ClassInterfaceDown:
		return models.HealthDegraded
	default:
		return models.HealthDown
	}
}

// classify derives the diagnosis from a single result, before flap
// detection is applied.
func (n *Normalizer) classify(res *models.ProbeResult) models.Classification {
	if !res.Success {
		switch res.Error {
		case models.ErrTimeout:
			return models.ClassTimeout
		case models.ErrUnreachable:
			return models.ClassUnreachable
		case models.ErrAuthFailure:
			return models.ClassAuthFailure
		default:
			return models.ClassProtocolError
		}
	}

	switch res.Kind {
	case models.KindPing:
		if res.Ping != nil {
			if res.Ping.LossPercent >= n.cfg.PacketLossPct && res.Ping.LossPercent > 0 {
				return models.ClassPacketLoss
			}
			if float64(res.Ping.AvgRTT.Milliseconds()) >= n.cfg.LatencyDegradedMs {
				return models.ClassLatencyDegraded
			}
		}
	case models.KindSNMP:
		if res.SNMP != nil && len(res.SNMP.InterfacesDown) > 0 {
			return models.ClassInterfaceDown
		}
	}
	return models.ClassOK
}

// track updates the consecutive-failure streak for one (device, check)
// pair and returns the new count. A failure outside the window of the
// previous one starts a fresh streak; any success resets it.
func (n *Normalizer) track(deviceID string, kind models.ProbeKind, at time.Time, failed bool) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := streakKey{deviceID: deviceID, kind: kind}
	s := n.streaks[key]
	if !failed {
		if s != nil {
			s.count = 0
		}
		return 0
	}

	if s == nil {
		s = &streak{}
		n.streaks[key] = s
	}
	if s.count > 0 && at.Sub(s.lastFail) > n.cfg.FlapWindow {
		s.count = 0
	}
	s.count++
	s.lastFail = at
	return s.count
}

// Forget drops all streak state for a device, typically when it is
// removed from the inventory.
func (n *Normalizer) Forget(deviceID string) {
	n.mu.Lock()
	for key := range n.streaks {
		if key.deviceID == deviceID {
			delete(n.streaks, key)
		}
	}
	n.mu.Unlock()
}

func message(dev models.Device, res *models.ProbeResult, class models.Classification) string {
	if class == models.ClassOK {
		return fmt.Sprintf("%s %s ok", dev.ID, res.Kind)
	}
	if res.ErrorMessage != "" {
		return fmt.Sprintf("%s %s %s: %s", dev.ID, res.Kind, class, res.ErrorMessage)
	}
	return fmt.Sprintf("%s %s %s", dev.ID, res.Kind, class)
}

// params builds the flat scalar map rule predicates evaluate against.
// health_state is the device's state before this result, so rules can
// branch on the prior condition.
func params(dev models.Device, prior models.HealthState, res *models.ProbeResult, class models.Classification, consecutive int) map[string]any {
	if prior == "" {
		prior = models.HealthUnknown
	}
	p := map[string]any{
		"device_id":            dev.ID,
		"device_type":          string(dev.Type),
		"health_state":         string(prior),
		"kind":                 string(res.Kind),
		"classification":       string(class),
		"success":              res.Success,
		"consecutive_failures": float64(consecutive),
	}
	if res.Error != models.ErrNone {
		p["error"] = string(res.Error)
	}
	if res.Ping != nil {
		p["latency_ms"] = float64(res.Ping.AvgRTT.Milliseconds())
		p["packet_loss_percent"] = res.Ping.LossPercent
	}
	if res.Trace != nil {
		p["hops"] = float64(len(res.Trace.Hops))
		p["reached"] = res.Trace.Reached
	}
	if res.SNMP != nil {
		p["interfaces_down"] = float64(len(res.SNMP.InterfacesDown))
	}
	if res.SSH != nil {
		p["exit_code"] = float64(res.SSH.ExitCode)
	}
	return p
}
