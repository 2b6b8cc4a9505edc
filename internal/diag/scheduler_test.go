package diag

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/probe"
	"github.com/HerbHall/netmedic/pkg/models"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

type fakeSource struct {
	mu      sync.Mutex
	devices []models.Device
	health  map[string]models.HealthSnapshot
}

func (f *fakeSource) ActiveDevices() []models.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Device(nil), f.devices...)
}

func (f *fakeSource) Health(id string) (models.HealthSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.health[id]
	return h, ok
}

func (f *fakeSource) UpdateHealth(id string, fn func(h *models.HealthSnapshot)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.health == nil {
		f.health = make(map[string]models.HealthSnapshot)
	}
	h := f.health[id]
	fn(&h)
	f.health[id] = h
	return true
}

func (f *fakeSource) snapshot(id string) models.HealthSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health[id]
}

type fakeResolver struct{}

func (fakeResolver) ResolveCommand(_ models.DeviceType, name string) (string, error) {
	return "resolved:" + name, nil
}

type fakeDriver struct {
	kind models.ProbeKind
	fn   func(ctx context.Context, dev models.Device, params probe.Params) *models.ProbeResult

	mu    sync.Mutex
	calls int
	inUse int
	peak  int
}

func (d *fakeDriver) Kind() models.ProbeKind { return d.kind }

func (d *fakeDriver) Run(ctx context.Context, dev models.Device, params probe.Params) *models.ProbeResult {
	d.mu.Lock()
	d.calls++
	d.inUse++
	if d.inUse > d.peak {
		d.peak = d.inUse
	}
	d.mu.Unlock()

	res := d.fn(ctx, dev, params)

	d.mu.Lock()
	d.inUse--
	d.mu.Unlock()
	return res
}

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDriver) peakConcurrency() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

type capturePub struct {
	mu     sync.Mutex
	events []plugin.Event
}

func (p *capturePub) Publish(_ context.Context, ev plugin.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *capturePub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func okResult(dev models.Device, kind models.ProbeKind) *models.ProbeResult {
	return &models.ProbeResult{
		DeviceID:  dev.ID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Ping:      &models.PingStats{PacketsSent: 3, PacketsRecv: 3, AvgRTT: 10 * time.Millisecond},
	}
}

func schedCfg() DiagConfig {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour // only the immediate tick fires in tests
	cfg.MaxConcurrency = 4
	cfg.ProbeTimeout = time.Second
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func pingDevices(n int) []models.Device {
	devs := make([]models.Device, 0, n)
	for i := 0; i < n; i++ {
		devs = append(devs, models.Device{
			ID:     string(rune('a' + i%26)) + "-" + string(rune('0'+i/26)),
			Type:   models.DeviceRouter,
			Checks: []models.CheckSpec{{Kind: models.KindPing, Interval: time.Minute}},
		})
	}
	return devs
}

func waitCount(t *testing.T, fn func() int, want int, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: got %d, want %d", msg, fn(), want)
}

func TestSchedulerRunsDueChecksAndPublishes(t *testing.T) {
	src := &fakeSource{devices: pingDevices(10)}
	pub := &capturePub{}
	driver := &fakeDriver{kind: models.KindPing, fn: func(_ context.Context, dev models.Device, _ probe.Params) *models.ProbeResult {
		return okResult(dev, models.KindPing)
	}}

	s := NewScheduler(schedCfg(), src, fakeResolver{}, []probe.Driver{driver}, NewNormalizer(schedCfg()), pub, zap.NewNop())
	s.Start(context.Background())
	waitCount(t, pub.count, 10, "published events")
	s.Stop()

	if driver.callCount() != 10 {
		t.Errorf("driver calls = %d, want 10", driver.callCount())
	}
	for _, ev := range pub.events {
		if ev.Topic != TopicDiagnostic {
			t.Errorf("topic = %q, want %q", ev.Topic, TopicDiagnostic)
		}
		if _, ok := ev.Payload.(*models.DiagnosticEvent); !ok {
			t.Errorf("payload type %T, want *models.DiagnosticEvent", ev.Payload)
		}
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	src := &fakeSource{devices: pingDevices(20)}
	pub := &capturePub{}
	driver := &fakeDriver{kind: models.KindPing, fn: func(_ context.Context, dev models.Device, _ probe.Params) *models.ProbeResult {
		time.Sleep(20 * time.Millisecond)
		return okResult(dev, models.KindPing)
	}}

	cfg := schedCfg()
	cfg.MaxConcurrency = 4
	s := NewScheduler(cfg, src, fakeResolver{}, []probe.Driver{driver}, NewNormalizer(cfg), pub, zap.NewNop())
	s.Start(context.Background())
	waitCount(t, pub.count, 20, "published events")
	s.Stop()

	if peak := driver.peakConcurrency(); peak > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", peak)
	}
}

func TestSchedulerIntervalGating(t *testing.T) {
	src := &fakeSource{devices: pingDevices(1)}
	pub := &capturePub{}
	driver := &fakeDriver{kind: models.KindPing, fn: func(_ context.Context, dev models.Device, _ probe.Params) *models.ProbeResult {
		return okResult(dev, models.KindPing)
	}}

	s := NewScheduler(schedCfg(), src, fakeResolver{}, []probe.Driver{driver}, NewNormalizer(schedCfg()), pub, zap.NewNop())
	s.Start(context.Background())
	waitCount(t, pub.count, 1, "published events")

	// Interval has not elapsed, so another tick must not re-run the check.
	s.tick()
	s.Stop()

	if driver.callCount() != 1 {
		t.Errorf("driver calls = %d, want 1 (interval not yet due)", driver.callCount())
	}
}

func TestSchedulerRetriesTransientFailures(t *testing.T) {
	src := &fakeSource{devices: pingDevices(1)}
	pub := &capturePub{}
	driver := &fakeDriver{kind: models.KindPing, fn: func(_ context.Context, dev models.Device, _ probe.Params) *models.ProbeResult {
		return &models.ProbeResult{
			DeviceID: dev.ID, Kind: models.KindPing, Timestamp: time.Now().UTC(),
			Success: false, Error: models.ErrTimeout, ErrorMessage: "no reply",
		}
	}}

	s := NewScheduler(schedCfg(), src, fakeResolver{}, []probe.Driver{driver}, NewNormalizer(schedCfg()), pub, zap.NewNop())
	s.Start(context.Background())
	waitCount(t, pub.count, 1, "published events")
	s.Stop()

	// Initial attempt plus MaxRetries.
	if driver.callCount() != 3 {
		t.Errorf("driver calls = %d, want 3 for retriable failure", driver.callCount())
	}
}

func TestSchedulerDoesNotRetryAuthFailure(t *testing.T) {
	src := &fakeSource{devices: pingDevices(1)}
	pub := &capturePub{}
	driver := &fakeDriver{kind: models.KindPing, fn: func(_ context.Context, dev models.Device, _ probe.Params) *models.ProbeResult {
		return &models.ProbeResult{
			DeviceID: dev.ID, Kind: models.KindPing, Timestamp: time.Now().UTC(),
			Success: false, Error: models.ErrAuthFailure, ErrorMessage: "bad community",
		}
	}}

	s := NewScheduler(schedCfg(), src, fakeResolver{}, []probe.Driver{driver}, NewNormalizer(schedCfg()), pub, zap.NewNop())
	s.Start(context.Background())
	waitCount(t, pub.count, 1, "published events")
	s.Stop()

	if driver.callCount() != 1 {
		t.Errorf("driver calls = %d, want 1 for non-retriable failure", driver.callCount())
	}
}

func TestSchedulerPublishesFlapAlongsideBase(t *testing.T) {
	devs := []models.Device{{
		ID:     "r1",
		Checks: []models.CheckSpec{{Kind: models.KindPing, Interval: time.Millisecond}},
	}}
	src := &fakeSource{devices: devs}
	pub := &capturePub{}
	driver := &fakeDriver{kind: models.KindPing, fn: func(_ context.Context, dev models.Device, _ probe.Params) *models.ProbeResult {
		return &models.ProbeResult{
			DeviceID: dev.ID, Kind: models.KindPing, Timestamp: time.Now().UTC(),
			Success: false, Error: models.ErrTimeout, ErrorMessage: "no reply",
		}
	}}

	cfg := schedCfg()
	cfg.MaxRetries = 0
	cfg.FlapThreshold = 3
	s := NewScheduler(cfg, src, fakeResolver{}, []probe.Driver{driver}, NewNormalizer(cfg), pub, zap.NewNop())
	s.Start(context.Background())
	waitCount(t, pub.count, 1, "first tick")

	// tick blocks until its probes complete, so each call below lands one
	// more failing result once the check interval has elapsed.
	time.Sleep(5 * time.Millisecond)
	s.tick()
	waitCount(t, pub.count, 2, "second failure")
	time.Sleep(5 * time.Millisecond)
	s.tick()
	waitCount(t, pub.count, 4, "third failure should add a flapping event")
	s.Stop()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	third := pub.events[2].Payload.(*models.DiagnosticEvent)
	fourth := pub.events[3].Payload.(*models.DiagnosticEvent)
	if third.Key.Classification != models.ClassTimeout {
		t.Errorf("base event = %q, want timeout", third.Key.Classification)
	}
	if fourth.Key.Classification != models.ClassFlapping {
		t.Errorf("extra event = %q, want flapping", fourth.Key.Classification)
	}

	h := src.snapshot("r1")
	if h.State != models.HealthDown || h.Classification != models.ClassFlapping {
		t.Errorf("health = %+v, want down/flapping", h)
	}
}

func TestSchedulerUpdatesHealth(t *testing.T) {
	src := &fakeSource{devices: pingDevices(1)}
	pub := &capturePub{}
	driver := &fakeDriver{kind: models.KindPing, fn: func(_ context.Context, dev models.Device, _ probe.Params) *models.ProbeResult {
		return &models.ProbeResult{
			DeviceID: dev.ID, Kind: models.KindPing, Timestamp: time.Now().UTC(),
			Success: false, Error: models.ErrUnreachable, ErrorMessage: "host down",
		}
	}}

	s := NewScheduler(schedCfg(), src, fakeResolver{}, []probe.Driver{driver}, NewNormalizer(schedCfg()), pub, zap.NewNop())
	s.Start(context.Background())
	waitCount(t, pub.count, 1, "published events")
	s.Stop()

	h := src.snapshot(src.devices[0].ID)
	if h.State != models.HealthDown {
		t.Errorf("health state = %q, want down", h.State)
	}
	if h.Classification != models.ClassUnreachable {
		t.Errorf("classification = %q, want unreachable", h.Classification)
	}
	if h.LastError != "host down" {
		t.Errorf("last error = %q", h.LastError)
	}
}

func TestSchedulerResolvesSSHCommand(t *testing.T) {
	dev := models.Device{
		ID:   "sw-1",
		Type: models.DeviceSwitch,
		Checks: []models.CheckSpec{
			{Kind: models.KindSSH, Interval: time.Minute, Command: "uptime"},
		},
	}
	src := &fakeSource{devices: []models.Device{dev}}
	pub := &capturePub{}

	var gotCommand string
	var mu sync.Mutex
	driver := &fakeDriver{kind: models.KindSSH, fn: func(_ context.Context, d models.Device, p probe.Params) *models.ProbeResult {
		mu.Lock()
		gotCommand = p.Command
		mu.Unlock()
		return &models.ProbeResult{
			DeviceID: d.ID, Kind: models.KindSSH, Timestamp: time.Now().UTC(), Success: true,
			SSH: &models.SSHOutput{ExitCode: 0},
		}
	}}

	s := NewScheduler(schedCfg(), src, fakeResolver{}, []probe.Driver{driver}, NewNormalizer(schedCfg()), pub, zap.NewNop())
	s.Start(context.Background())
	waitCount(t, pub.count, 1, "published events")
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if gotCommand != "resolved:uptime" {
		t.Errorf("driver saw command %q, want the resolved line", gotCommand)
	}
}

func TestSchedulerSkipsUnknownKind(t *testing.T) {
	dev := models.Device{
		ID:     "r1",
		Checks: []models.CheckSpec{{Kind: models.KindSNMP, Interval: time.Minute}},
	}
	src := &fakeSource{devices: []models.Device{dev}}
	pub := &capturePub{}

	// No SNMP driver registered.
	s := NewScheduler(schedCfg(), src, fakeResolver{}, nil, NewNormalizer(schedCfg()), pub, zap.NewNop())
	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if pub.count() != 0 {
		t.Errorf("published %d events, want 0 without a driver", pub.count())
	}
}
