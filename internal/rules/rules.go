// Package rules matches diagnostic events against a prioritized,
// hot-reloadable rule set and emits directives for the dispatcher.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/diag"
	"github.com/HerbHall/netmedic/pkg/models"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.Plugin = (*Module)(nil)

// Module implements the rules engine plugin.
type Module struct {
	logger *zap.Logger
	cfg    RulesConfig
	engine *Engine
	bus    plugin.EventBus

	watcher     *Watcher
	unsubscribe func()

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a rules plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:         "rules",
		Version:      "0.1.0",
		Description:  "Prioritized fault rules with cooldown suppression",
		Dependencies: []string{"diag"},
		Required:     true,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if err := deps.Config.Unmarshal(&m.cfg); err != nil {
		return err
	}

	ruleSet, err := LoadFile(m.cfg.RulesFile, m.logger)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	m.engine = NewEngine(ruleSet, m.logger)

	if m.cfg.Watch {
		w, err := NewWatcher(m.cfg.RulesFile, m.engine, m.logger)
		if err != nil {
			return fmt.Errorf("watch rules file: %w", err)
		}
		m.watcher = w
	}

	m.logger.Info("rules module initialized",
		zap.String("rules_file", m.cfg.RulesFile),
		zap.Int("rules", m.engine.Len()),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	m.unsubscribe = m.bus.Subscribe(diag.TopicDiagnostic, m.handleEvent,
		plugin.WithName("rules"),
	)

	if m.watcher != nil {
		m.watcher.Start(ctx)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.engine.Sweep(); n > 0 {
					m.logger.Debug("cooldown sweep", zap.Int("expired", n))
				}
			}
		}
	}()

	m.logger.Info("rules module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.watcher != nil {
		m.watcher.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("rules module stopped")
	return nil
}

// Engine exposes the evaluation engine, mainly for cooldown resets.
func (m *Module) Engine() *Engine {
	return m.engine
}

func (m *Module) handleEvent(ctx context.Context, event plugin.Event) {
	ev, ok := event.Payload.(*models.DiagnosticEvent)
	if !ok {
		m.logger.Warn("unexpected payload on diagnostic topic")
		return
	}

	for _, d := range m.engine.Evaluate(ev) {
		m.bus.Publish(ctx, plugin.Event{
			Topic:     TopicDirective,
			Source:    "rules",
			Timestamp: d.CreatedAt,
			Payload:   d,
		})
	}
}
