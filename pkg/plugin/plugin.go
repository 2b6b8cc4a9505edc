// Package plugin provides the module SDK for the netmedic engine.
// Every engine module (inventory, diag, rules, dispatch, history)
// implements these interfaces and is composed in cmd/netmedic.
package plugin

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Plugin defines the lifecycle contract every netmedic module implements.
type Plugin interface {
	// Info returns the module's metadata and dependency declarations.
	Info() Info

	// Init initializes the module with its dependencies.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins the module's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the module.
	Stop(ctx context.Context) error
}

// Info contains module metadata and dependency declarations.
type Info struct {
	Name         string   // Unique identifier: "inventory", "diag", "rules", etc.
	Version      string   // Semantic version string
	Description  string   // Human-readable summary
	Dependencies []string // Module names that must initialize first
	Required     bool     // If true, the engine refuses to start without this module
}

// Dependencies provides controlled access to shared services.
// Injected by the registry during Init.
type Dependencies struct {
	Config Config      // Scoped to this module's config section
	Logger *zap.Logger // Named logger for this module
	Store  Store       // Shared SQLite store (nil when persistence is disabled)
	Bus    EventBus    // Event publish/subscribe for inter-module communication
}

// Config abstracts configuration access. Wraps Viper today, replaceable later.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Store is the shared persistence contract. Modules own their schema via
// Migrate and query through DB.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, moduleName string, migrations []Migration) error
	Close() error
}

// Migration is a single versioned schema change for one module.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Publisher sends events to the bus. Use this thin interface in code
// that only needs to emit events (follows io.Writer pattern).
// Publish never blocks on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Subscriber receives events from the bus. Use this thin interface in
// code that only needs to listen for events (follows io.Reader pattern).
type Subscriber interface {
	Subscribe(topic string, handler EventHandler, opts ...SubscribeOption) (unsubscribe func())
}

// EventBus provides typed publish/subscribe for inter-module communication.
// Composes Publisher and Subscriber with a wildcard extension.
type EventBus interface {
	Publisher
	Subscriber
	SubscribeAll(handler EventHandler, opts ...SubscribeOption) (unsubscribe func())
}

// Event represents a typed message on the event bus.
type Event struct {
	Topic     string
	Source    string // Module name that emitted the event
	Timestamp time.Time
	Payload   any // Type depends on topic
}

// EventHandler processes events from the bus. Handlers run on the
// subscriber's delivery goroutine, one event at a time, in publish order.
type EventHandler func(ctx context.Context, event Event)

// SubscribeOption tunes a single subscription.
type SubscribeOption func(*SubscribeOptions)

// SubscribeOptions holds per-subscription settings.
type SubscribeOptions struct {
	// Name identifies the subscriber in logs, metrics, and drop counters.
	Name string
	// QueueSize bounds the undelivered-event queue. When the queue is
	// full the oldest undelivered event is dropped (bounded staleness).
	QueueSize int
}

// WithName sets the subscriber name used in logs and drop counters.
func WithName(name string) SubscribeOption {
	return func(o *SubscribeOptions) { o.Name = name }
}

// WithQueueSize overrides the default undelivered-event queue bound.
func WithQueueSize(n int) SubscribeOption {
	return func(o *SubscribeOptions) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}
