package diag

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/probe"
	"github.com/HerbHall/netmedic/pkg/models"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

var (
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmedic_probes_total",
		Help: "Completed probes by kind and outcome.",
	}, []string{"kind", "outcome"})

	probeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netmedic_probe_duration_seconds",
		Help:    "Probe wall time by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// DeviceSource is the scheduler's view of the inventory. Defined here
// (consumer-side) rather than in the inventory package.
type DeviceSource interface {
	ActiveDevices() []models.Device
	Health(id string) (models.HealthSnapshot, bool)
	UpdateHealth(id string, fn func(h *models.HealthSnapshot)) bool
}

// CommandResolver maps allow-listed command names to concrete command
// lines for a device type.
type CommandResolver interface {
	ResolveCommand(devType models.DeviceType, name string) (string, error)
}

// checkKey identifies one (device, check) pair across ticks.
type checkKey struct {
	deviceID string
	index    int
}

// Scheduler runs due checks against their devices with bounded
// concurrency. Each tick it collects the (device, check) pairs whose
// interval has elapsed and dispatches them to a semaphore-limited worker
// pool. Results are normalized and published in completion order.
type Scheduler struct {
	cfg        DiagConfig
	devices    DeviceSource
	commands   CommandResolver
	drivers    map[models.ProbeKind]probe.Driver
	normalizer *Normalizer
	bus        plugin.Publisher
	logger     *zap.Logger

	mu      sync.Mutex
	lastRun map[checkKey]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler over the given drivers.
func NewScheduler(cfg DiagConfig, devices DeviceSource, commands CommandResolver, drivers []probe.Driver, normalizer *Normalizer, bus plugin.Publisher, logger *zap.Logger) *Scheduler {
	byKind := make(map[models.ProbeKind]probe.Driver, len(drivers))
	for _, d := range drivers {
		byKind[d.Kind()] = d
	}
	return &Scheduler{
		cfg:        cfg,
		devices:    devices,
		commands:   commands,
		drivers:    byKind,
		normalizer: normalizer,
		bus:        bus,
		logger:     logger,
		lastRun:    make(map[checkKey]time.Time),
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		// Run immediately on start, then on each tick.
		s.tick()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop signals the scheduler to stop and waits for in-flight probes.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Running reports whether the scheduling loop is active.
func (s *Scheduler) Running() bool {
	return s.ctx != nil && s.ctx.Err() == nil
}

// tick dispatches all due checks to the worker pool and waits for them.
func (s *Scheduler) tick() {
	type job struct {
		dev   models.Device
		check models.CheckSpec
		key   checkKey
	}

	now := time.Now()
	var jobs []job

	s.mu.Lock()
	for _, dev := range s.devices.ActiveDevices() {
		for i, chk := range dev.Checks {
			key := checkKey{deviceID: dev.ID, index: i}
			if last, ok := s.lastRun[key]; ok && now.Sub(last) < chk.Interval {
				continue
			}
			s.lastRun[key] = now
			jobs = append(jobs, job{dev: dev, check: chk, key: key})
		}
	}
	s.mu.Unlock()

	if len(jobs) == 0 {
		return
	}

	// Semaphore-based worker pool.
	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup

dispatch:
	for i := range jobs {
		select {
		case <-s.ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()
			s.execute(s.ctx, j.dev, j.check)
		}(jobs[i])
	}

	wg.Wait()
}

// execute runs one check end to end: probe with retries, health update,
// normalization, publish.
func (s *Scheduler) execute(ctx context.Context, dev models.Device, chk models.CheckSpec) {
	driver, ok := s.drivers[chk.Kind]
	if !ok {
		s.logger.Warn("no driver for check kind",
			zap.String("device_id", dev.ID),
			zap.String("kind", string(chk.Kind)),
		)
		return
	}

	params, err := s.checkParams(dev, chk)
	if err != nil {
		s.logger.Warn("check skipped",
			zap.String("device_id", dev.ID),
			zap.String("kind", string(chk.Kind)),
			zap.Error(err),
		)
		return
	}

	res := s.runWithRetry(ctx, driver, dev, params)

	probeDuration.WithLabelValues(string(res.Kind)).Observe(res.Duration.Seconds())
	outcome := "success"
	if !res.Success {
		outcome = string(res.Error)
	}
	probesTotal.WithLabelValues(string(res.Kind), outcome).Inc()

	prior := models.HealthUnknown
	if h, ok := s.devices.Health(dev.ID); ok && h.State != "" {
		prior = h.State
	}

	events := s.normalizer.Normalize(dev, prior, res)
	if len(events) == 0 {
		return // cancelled, shutdown in progress
	}

	// The last event carries the most severe classification (flapping is
	// appended after the base event when the streak crosses the threshold).
	last := events[len(events)-1]
	s.devices.UpdateHealth(dev.ID, func(h *models.HealthSnapshot) {
		h.State = HealthState(last.Key.Classification)
		h.LastKind = res.Kind
		h.Classification = last.Key.Classification
		h.LastError = res.ErrorMessage
		if res.Ping != nil {
			h.LatencyMs = float64(res.Ping.AvgRTT.Milliseconds())
			h.PacketLossPct = res.Ping.LossPercent
		}
	})

	for _, ev := range events {
		s.bus.Publish(ctx, plugin.Event{
			Topic:     TopicDiagnostic,
			Source:    "diag",
			Timestamp: ev.Timestamp,
			Payload:   ev,
		})
	}
}

// runWithRetry executes the probe, retrying transient failures with
// exponential backoff. The last result wins.
func (s *Scheduler) runWithRetry(ctx context.Context, driver probe.Driver, dev models.Device, params probe.Params) *models.ProbeResult {
	backoff := s.cfg.RetryBackoff

	var res *models.ProbeResult
	for attempt := 0; ; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		res = driver.Run(probeCtx, dev, params)
		cancel()

		if res.Success || !res.Error.Retriable() || attempt >= s.cfg.MaxRetries {
			return res
		}

		s.logger.Debug("retrying probe",
			zap.String("device_id", dev.ID),
			zap.String("kind", string(res.Kind)),
			zap.String("error", string(res.Error)),
			zap.Int("attempt", attempt+1),
		)

		select {
		case <-ctx.Done():
			return res
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// checkParams translates a check spec into driver parameters, resolving
// the SSH command against the allow-list.
func (s *Scheduler) checkParams(dev models.Device, chk models.CheckSpec) (probe.Params, error) {
	p := probe.Params{
		Count:    chk.Count,
		HopLimit: chk.HopLimit,
		OIDs:     chk.OIDs,
	}
	if p.Count == 0 {
		p.Count = s.cfg.PingCount
	}
	if chk.Kind == models.KindSSH {
		line, err := s.commands.ResolveCommand(dev.Type, chk.Command)
		if err != nil {
			return probe.Params{}, err
		}
		p.Command = line
	}
	return p, nil
}
