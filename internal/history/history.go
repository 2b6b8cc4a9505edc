// Package history persists the diagnostic event and directive streams to
// the shared SQLite store and prunes them on a retention schedule.
package history

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/internal/diag"
	"github.com/HerbHall/netmedic/internal/rules"
	"github.com/HerbHall/netmedic/pkg/models"
	"github.com/HerbHall/netmedic/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.Plugin = (*Module)(nil)

// HistoryConfig tunes retention.
type HistoryConfig struct {
	RetentionPeriod time.Duration `mapstructure:"retention_period"`

	// PruneSchedule is a cron expression for the retention job.
	PruneSchedule string `mapstructure:"prune_schedule"`
}

func DefaultConfig() HistoryConfig {
	return HistoryConfig{
		RetentionPeriod: 30 * 24 * time.Hour,
		PruneSchedule:   "17 3 * * *", // daily, off the hour
	}
}

// Module implements the history plugin.
type Module struct {
	logger *zap.Logger
	cfg    HistoryConfig
	store  *HistoryStore
	cron   *cron.Cron

	unsubscribe func()
}

// New creates a history plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:         "history",
		Version:      "0.1.0",
		Description:  "Event and directive persistence with retention",
		Dependencies: []string{"diag"},
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if err := deps.Config.Unmarshal(&m.cfg); err != nil {
		return err
	}

	if deps.Store == nil {
		m.logger.Warn("no store configured, history disabled")
		return nil
	}
	if err := deps.Store.Migrate(ctx, "history", migrations()); err != nil {
		return err
	}
	m.store = NewHistoryStore(deps.Store.DB())

	m.unsubscribe = deps.Bus.SubscribeAll(m.handleEvent,
		plugin.WithName("history"),
		plugin.WithQueueSize(1024),
	)

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.cfg.PruneSchedule, m.prune); err != nil {
		return err
	}

	m.logger.Info("history module initialized",
		zap.Duration("retention", m.cfg.RetentionPeriod),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	if m.cron != nil {
		m.cron.Start()
	}
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	return nil
}

// Store exposes the history queries.
func (m *Module) Store() *HistoryStore {
	return m.store
}

// handleEvent persists bus traffic it recognizes. Unknown topics are
// ignored so new modules do not break persistence.
func (m *Module) handleEvent(ctx context.Context, event plugin.Event) {
	if m.store == nil {
		return
	}
	switch event.Topic {
	case diag.TopicDiagnostic:
		ev, ok := event.Payload.(*models.DiagnosticEvent)
		if !ok {
			return
		}
		if err := m.store.InsertEvent(ctx, ev); err != nil {
			m.logger.Warn("failed to persist event", zap.Error(err))
		}
	case rules.TopicDirective:
		d, ok := event.Payload.(models.Directive)
		if !ok {
			return
		}
		if err := m.store.InsertDirective(ctx, &d); err != nil {
			m.logger.Warn("failed to persist directive", zap.Error(err))
		}
	}
}

func (m *Module) prune() {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-m.cfg.RetentionPeriod)
	n, err := m.store.Prune(ctx, cutoff)
	if err != nil {
		m.logger.Warn("history prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("history pruned", zap.Int64("rows", n))
	}
}
