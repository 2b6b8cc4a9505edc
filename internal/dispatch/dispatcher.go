package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/netmedic/internal/diag"
	"github.com/HerbHall/netmedic/pkg/models"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

var directivesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "netmedic_directives_total",
	Help: "Processed directives by action and outcome.",
}, []string{"action", "outcome"})

// seenCap bounds the directive dedup window. Old entries are evicted in
// arrival order once the window fills.
const seenCap = 8192

// Dispatcher consumes directives and carries them out: notifications
// through channel notifiers, remediation through the executor. Each
// device has its own FIFO queue and worker goroutine, so directives for
// one device are applied in order while devices proceed independently.
// Duplicate directive IDs are dropped, making delivery exactly-once from
// the rules engine's perspective.
type Dispatcher struct {
	cfg       DispatchConfig
	notifiers map[string]Notifier
	limiters  map[string]*rate.Limiter
	fallback  Notifier
	executor  Executor
	bus       plugin.Publisher
	logger    *zap.Logger

	mu        sync.Mutex
	queues    map[string]chan models.Directive
	seen      map[string]struct{}
	seenOrder []string
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given delivery channels.
func NewDispatcher(cfg DispatchConfig, notifiers []Notifier, executor Executor, bus plugin.Publisher, logger *zap.Logger) *Dispatcher {
	byType := make(map[string]Notifier, len(notifiers))
	limiters := make(map[string]*rate.Limiter, len(notifiers))
	perMinute := cfg.NotifyRatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := cfg.NotifyBurst
	if burst <= 0 {
		burst = 1
	}
	var fallback Notifier
	for _, n := range notifiers {
		byType[n.Type()] = n
		limiters[n.Type()] = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
		if n.Type() == "log" {
			fallback = n
		}
	}
	if fallback == nil {
		fallback = NewLogNotifier(logger)
		limiters["log"] = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	}

	return &Dispatcher{
		cfg:       cfg,
		notifiers: byType,
		limiters:  limiters,
		fallback:  fallback,
		executor:  executor,
		bus:       bus,
		logger:    logger,
		queues:    make(map[string]chan models.Directive),
		seen:      make(map[string]struct{}, seenCap),
	}
}

// Start makes the dispatcher ready to accept directives.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
}

// Stop drains the per-device queues and waits for in-flight work.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

// Enqueue hands a directive to its device's queue. Duplicates and
// directives arriving after shutdown or against a full queue are dropped.
func (d *Dispatcher) Enqueue(directive models.Directive) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if _, dup := d.seen[directive.ID]; dup {
		d.mu.Unlock()
		d.logger.Debug("duplicate directive dropped", zap.String("directive_id", directive.ID))
		return
	}
	d.seen[directive.ID] = struct{}{}
	d.seenOrder = append(d.seenOrder, directive.ID)
	if len(d.seenOrder) > seenCap {
		delete(d.seen, d.seenOrder[0])
		d.seenOrder = d.seenOrder[1:]
	}

	q, ok := d.queues[directive.DeviceID]
	if !ok {
		q = make(chan models.Directive, d.cfg.QueueSize)
		d.queues[directive.DeviceID] = q
		d.wg.Add(1)
		go d.worker(q)
	}

	// The send stays under the lock: Stop closes the queues under the
	// same lock, so a late Enqueue can never hit a closed channel. The
	// send is non-blocking, so holding the lock here cannot deadlock
	// against a busy worker.
	select {
	case q <- directive:
	default:
		d.logger.Warn("directive queue full, dropping",
			zap.String("device_id", directive.DeviceID),
			zap.String("directive_id", directive.ID),
		)
		directivesTotal.WithLabelValues(string(directive.Action.Type), "queue_full").Inc()
	}
	d.mu.Unlock()
}

// worker applies one device's directives in FIFO order.
func (d *Dispatcher) worker(q <-chan models.Directive) {
	defer d.wg.Done()
	for directive := range q {
		d.process(directive)
	}
}

// process carries out one directive with retries. Exhausting the attempt
// budget feeds a dispatch-failure event back onto the diagnostic topic.
func (d *Dispatcher) process(directive models.Directive) {
	var lastErr error
	backoff := d.cfg.RetryBackoff

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.ActionTimeout)
		lastErr = d.attempt(ctx, directive)
		cancel()

		if lastErr == nil {
			directivesTotal.WithLabelValues(string(directive.Action.Type), "success").Inc()
			return
		}
		if d.ctx.Err() != nil {
			break // shutting down, no feedback event
		}

		d.logger.Warn("directive attempt failed",
			zap.String("directive_id", directive.ID),
			zap.String("device_id", directive.DeviceID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)

		if attempt < d.cfg.MaxAttempts {
			select {
			case <-d.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	if d.ctx.Err() != nil {
		return
	}
	directivesTotal.WithLabelValues(string(directive.Action.Type), "failed").Inc()
	d.publishFailure(directive, lastErr)
}

// attempt carries out one try of the directive's action.
func (d *Dispatcher) attempt(ctx context.Context, directive models.Directive) error {
	switch directive.Action.Type {
	case models.ActionNotify, models.ActionEscalate:
		return d.notify(ctx, directive)

	case models.ActionRemediate:
		res, err := d.executor.Execute(ctx, directive.DeviceID, directive.Action.Command)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("remediation %s on %s: %s (%s)",
				directive.Action.Command, directive.DeviceID, res.Error, res.ErrorMessage)
		}
		d.logger.Info("remediation applied",
			zap.String("device_id", directive.DeviceID),
			zap.String("command", directive.Action.Command),
			zap.String("rule_id", directive.RuleID),
		)
		return nil

	default:
		return fmt.Errorf("unknown action type %q", directive.Action.Type)
	}
}

func (d *Dispatcher) notify(ctx context.Context, directive models.Directive) error {
	channel := directive.Action.Channel
	n, ok := d.notifiers[channel]
	if !ok {
		d.logger.Warn("unknown notification channel, using log",
			zap.String("channel", channel),
		)
		n = d.fallback
		channel = d.fallback.Type()
	}

	if lim := d.limiters[channel]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	return n.Notify(ctx, &Notification{
		DirectiveID: directive.ID,
		RuleID:      directive.RuleID,
		DeviceID:    directive.DeviceID,
		Severity:    directive.Action.Severity,
		Message:     directive.Trigger.Message,
	})
}

// publishFailure feeds a synthetic diagnostic event back onto the bus so
// rules can react to broken delivery paths. The event carries the
// dispatch probe kind; rules targeting it must not re-trigger the same
// failed channel without their own cooldown.
func (d *Dispatcher) publishFailure(directive models.Directive, cause error) {
	now := time.Now().UTC()
	msg := fmt.Sprintf("directive %s (rule %s) failed after %d attempts: %v",
		directive.ID, directive.RuleID, d.cfg.MaxAttempts, cause)

	ev := &models.DiagnosticEvent{
		ID: uuid.NewString(),
		Key: models.EventKey{
			DeviceID:       directive.DeviceID,
			Kind:           models.KindDispatch,
			Classification: models.ClassDispatchFailed,
		},
		Timestamp: now,
		Message:   msg,
		Params: map[string]any{
			"device_id":      directive.DeviceID,
			"kind":           string(models.KindDispatch),
			"classification": string(models.ClassDispatchFailed),
			"rule_id":        directive.RuleID,
			"action":         string(directive.Action.Type),
			"channel":        directive.Action.Channel,
			"success":        false,
		},
	}

	d.bus.Publish(d.ctx, plugin.Event{
		Topic:     diag.TopicDiagnostic,
		Source:    "dispatch",
		Timestamp: now,
		Payload:   ev,
	})
}
