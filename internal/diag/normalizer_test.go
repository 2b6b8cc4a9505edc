package diag

import (
	"testing"
	"time"

	"github.com/HerbHall/netmedic/pkg/models"
)

func testNormCfg() DiagConfig {
	cfg := DefaultConfig()
	cfg.FlapThreshold = 3
	cfg.FlapWindow = 5 * time.Minute
	cfg.LatencyDegradedMs = 200
	cfg.PacketLossPct = 20
	return cfg
}

func pingResult(deviceID string, avgRTT time.Duration, lossPct float64) *models.ProbeResult {
	return &models.ProbeResult{
		DeviceID:  deviceID,
		Kind:      models.KindPing,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Ping: &models.PingStats{
			PacketsSent: 3,
			PacketsRecv: 3,
			LossPercent: lossPct,
			AvgRTT:      avgRTT,
		},
	}
}

func failResult(deviceID string, kind models.ProbeKind, errKind models.ErrorKind, at time.Time) *models.ProbeResult {
	return &models.ProbeResult{
		DeviceID:     deviceID,
		Kind:         kind,
		Timestamp:    at,
		Success:      false,
		Error:        errKind,
		ErrorMessage: "boom",
	}
}

func classes(events []*models.DiagnosticEvent) []models.Classification {
	out := make([]models.Classification, len(events))
	for i, ev := range events {
		out[i] = ev.Key.Classification
	}
	return out
}

func TestNormalizeClassification(t *testing.T) {
	tests := []struct {
		name string
		res  *models.ProbeResult
		want models.Classification
	}{
		{"healthy ping", pingResult("d1", 20*time.Millisecond, 0), models.ClassOK},
		{"slow ping", pingResult("d2", 350*time.Millisecond, 0), models.ClassLatencyDegraded},
		{"lossy ping", pingResult("d3", 20*time.Millisecond, 33.3), models.ClassPacketLoss},
		{"timeout", failResult("d4", models.KindPing, models.ErrTimeout, time.Now()), models.ClassTimeout},
		{"unreachable", failResult("d5", models.KindPing, models.ErrUnreachable, time.Now()), models.ClassUnreachable},
		{"auth failure", failResult("d6", models.KindSNMP, models.ErrAuthFailure, time.Now()), models.ClassAuthFailure},
		{"protocol error", failResult("d7", models.KindSSH, models.ErrProtocolError, time.Now()), models.ClassProtocolError},
		{
			"interfaces down",
			&models.ProbeResult{
				DeviceID: "d8", Kind: models.KindSNMP, Timestamp: time.Now(), Success: true,
				SNMP: &models.SNMPValues{InterfacesDown: []string{"Gi0/1"}},
			},
			models.ClassInterfaceDown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := NewNormalizer(testNormCfg())
			dev := models.Device{ID: tc.res.DeviceID, Type: models.DeviceRouter}

			events := n.Normalize(dev, models.HealthUp, tc.res)
			if len(events) != 1 {
				t.Fatalf("events = %d, want 1", len(events))
			}
			ev := events[0]
			if ev.Key.Classification != tc.want {
				t.Errorf("classification = %q, want %q", ev.Key.Classification, tc.want)
			}
			if ev.Key.DeviceID != tc.res.DeviceID || ev.Key.Kind != tc.res.Kind {
				t.Errorf("key = %v, want device/kind of the result", ev.Key)
			}
			if ev.ID == "" {
				t.Error("event has no id")
			}
		})
	}
}

func TestNormalizeCancelledProducesNoEvent(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	dev := models.Device{ID: "d1"}

	res := failResult("d1", models.KindPing, models.ErrCancelled, time.Now())
	if events := n.Normalize(dev, models.HealthUp, res); len(events) != 0 {
		t.Fatalf("cancelled probe produced %d events, want 0", len(events))
	}
}

func TestFlappingEmittedAlongsideBaseEvent(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	dev := models.Device{ID: "d1"}
	base := time.Now().UTC()

	// Two consecutive failures yield only the base classification.
	for i := 0; i < 2; i++ {
		res := failResult("d1", models.KindPing, models.ErrTimeout, base.Add(time.Duration(i)*time.Second))
		events := n.Normalize(dev, models.HealthDown, res)
		if len(events) != 1 || events[0].Key.Classification != models.ClassTimeout {
			t.Fatalf("failure %d: events = %v, want [timeout]", i+1, classes(events))
		}
	}

	// The third crosses the threshold: the timeout event survives and a
	// flapping event is added, never substituted.
	res := failResult("d1", models.KindPing, models.ErrTimeout, base.Add(2*time.Second))
	events := n.Normalize(dev, models.HealthDown, res)
	if len(events) != 2 {
		t.Fatalf("events = %v, want timeout plus flapping", classes(events))
	}
	if events[0].Key.Classification != models.ClassTimeout {
		t.Errorf("base event = %q, want timeout", events[0].Key.Classification)
	}
	if events[1].Key.Classification != models.ClassFlapping {
		t.Errorf("second event = %q, want flapping", events[1].Key.Classification)
	}
	if got := events[1].Params["consecutive_failures"]; got != float64(3) {
		t.Errorf("consecutive_failures = %v, want 3", got)
	}
}

func TestFlapStreakIsPerDeviceAndKind(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	dev := models.Device{ID: "d1"}
	base := time.Now().UTC()

	// One failure each on ping, snmp, and ssh must not pool into a
	// three-failure streak for the device.
	for i, kind := range []models.ProbeKind{models.KindPing, models.KindSNMP, models.KindSSH} {
		res := failResult("d1", kind, models.ErrUnreachable, base.Add(time.Duration(i)*time.Second))
		events := n.Normalize(dev, models.HealthDown, res)
		if len(events) != 1 {
			t.Fatalf("%s failure: events = %v, want only the base classification", kind, classes(events))
		}
		if got := events[0].Params["consecutive_failures"]; got != float64(1) {
			t.Errorf("%s consecutive_failures = %v, want 1", kind, got)
		}
	}

	// Three failures of the same kind still trip the threshold.
	var events []*models.DiagnosticEvent
	for i := 0; i < 2; i++ {
		res := failResult("d1", models.KindPing, models.ErrUnreachable, base.Add(time.Duration(10+i)*time.Second))
		events = n.Normalize(dev, models.HealthDown, res)
	}
	if len(events) != 2 || events[1].Key.Classification != models.ClassFlapping {
		t.Fatalf("third ping failure: events = %v, want unreachable plus flapping", classes(events))
	}
}

func TestFlappingResetOnSuccess(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	dev := models.Device{ID: "d1"}
	base := time.Now().UTC()

	n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, base))
	n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, base.Add(time.Second)))
	n.Normalize(dev, models.HealthDown, pingResult("d1", 10*time.Millisecond, 0))

	// Streak restarted: two more failures must not flag flapping.
	n.Normalize(dev, models.HealthUp, failResult("d1", models.KindPing, models.ErrUnreachable, base.Add(3*time.Second)))
	events := n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, base.Add(4*time.Second)))
	if len(events) != 1 {
		t.Fatalf("streak not reset by success: events = %v", classes(events))
	}
}

func TestFlappingWindowExpiry(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	dev := models.Device{ID: "d1"}
	base := time.Now().UTC()

	n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, base))
	n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, base.Add(time.Second)))

	// Third failure lands outside the window, so the streak restarts.
	late := base.Add(time.Second + 6*time.Minute)
	events := n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, late))
	if len(events) != 1 || events[0].Key.Classification != models.ClassUnreachable {
		t.Fatalf("events = %v, want only unreachable after window expiry", classes(events))
	}
}

func TestStreaksAreIndependentPerDevice(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	base := time.Now().UTC()

	for i := 0; i < 2; i++ {
		n.Normalize(models.Device{ID: "a"}, models.HealthDown, failResult("a", models.KindPing, models.ErrUnreachable, base.Add(time.Duration(i)*time.Second)))
	}
	events := n.Normalize(models.Device{ID: "b"}, models.HealthUnknown, failResult("b", models.KindPing, models.ErrUnreachable, base))
	if got := events[0].Params["consecutive_failures"]; got != float64(1) {
		t.Errorf("device b consecutive_failures = %v, want 1", got)
	}
}

func TestForgetClearsDeviceStreaks(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	dev := models.Device{ID: "d1"}
	base := time.Now().UTC()

	n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, base))
	n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, base.Add(time.Second)))
	n.Forget("d1")

	events := n.Normalize(dev, models.HealthDown, failResult("d1", models.KindPing, models.ErrUnreachable, base.Add(2*time.Second)))
	if got := events[0].Params["consecutive_failures"]; got != float64(1) {
		t.Errorf("consecutive_failures = %v after Forget, want 1", got)
	}
}

func TestParamsCarryScalars(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	dev := models.Device{ID: "d1", Type: models.DeviceSwitch}

	events := n.Normalize(dev, models.HealthDegraded, pingResult("d1", 350*time.Millisecond, 10))
	ev := events[0]
	if ev.Params["device_id"] != "d1" {
		t.Errorf("device_id = %v", ev.Params["device_id"])
	}
	if ev.Params["device_type"] != "switch" {
		t.Errorf("device_type = %v", ev.Params["device_type"])
	}
	if ev.Params["health_state"] != string(models.HealthDegraded) {
		t.Errorf("health_state = %v", ev.Params["health_state"])
	}
	if ev.Params["classification"] != string(models.ClassLatencyDegraded) {
		t.Errorf("classification = %v", ev.Params["classification"])
	}
	if ev.Params["latency_ms"] != float64(350) {
		t.Errorf("latency_ms = %v", ev.Params["latency_ms"])
	}
	if ev.Params["packet_loss_percent"] != float64(10) {
		t.Errorf("packet_loss_percent = %v", ev.Params["packet_loss_percent"])
	}
}

func TestParamsDefaultHealthState(t *testing.T) {
	n := NewNormalizer(testNormCfg())
	events := n.Normalize(models.Device{ID: "d1"}, "", pingResult("d1", 10*time.Millisecond, 0))
	if got := events[0].Params["health_state"]; got != string(models.HealthUnknown) {
		t.Errorf("health_state = %v, want unknown default", got)
	}
}

func TestHealthStateLadder(t *testing.T) {
	if HealthState(models.ClassOK) != models.HealthUp {
		t.Error("ok should map to up")
	}
	if HealthState(models.ClassLatencyDegraded) != models.HealthDegraded {
		t.Error("latency_degraded should map to degraded")
	}
	if HealthState(models.ClassUnreachable) != models.HealthDown {
		t.Error("unreachable should map to down")
	}
	if HealthState(models.ClassFlapping) != models.HealthDown {
		t.Error("flapping should map to down")
	}
}
