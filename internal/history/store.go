package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HerbHall/netmedic/pkg/models"
)

// HistoryStore persists diagnostic events and directives for audit and
// post-incident review.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore wraps the shared database handle.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// InsertEvent records one diagnostic event. The full event is kept as a
// JSON payload alongside the indexed columns.
func (s *HistoryStore) InsertEvent(ctx context.Context, ev *models.DiagnosticEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO history_events (id, device_id, kind, classification, message, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Key.DeviceID, string(ev.Key.Kind), string(ev.Key.Classification),
		ev.Message, string(payload), ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertDirective records one directive.
func (s *HistoryStore) InsertDirective(ctx context.Context, d *models.Directive) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO history_directives (id, rule_id, device_id, action_type, channel, severity, command, trigger_event_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RuleID, d.DeviceID, string(d.Action.Type), d.Action.Channel,
		string(d.Action.Severity), d.Action.Command, d.Trigger.ID, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert directive: %w", err)
	}
	return nil
}

// EventRecord is one persisted diagnostic event row.
type EventRecord struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	Kind           string    `json:"kind"`
	Classification string    `json:"classification"`
	Message        string    `json:"message"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventsForDevice returns the most recent events for a device, newest first.
func (s *HistoryStore) EventsForDevice(ctx context.Context, deviceID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, kind, classification, message, occurred_at
		FROM history_events
		WHERE device_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Kind, &r.Classification, &r.Message, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DirectiveRecord is one persisted directive row.
type DirectiveRecord struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	DeviceID   string    `json:"device_id"`
	ActionType string    `json:"action_type"`
	Channel    string    `json:"channel,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	Command    string    `json:"command,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DirectivesForDevice returns the most recent directives for a device,
// newest first.
func (s *HistoryStore) DirectivesForDevice(ctx context.Context, deviceID string, limit int) ([]DirectiveRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, device_id, action_type, channel, severity, command, created_at
		FROM history_directives
		WHERE device_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query directives: %w", err)
	}
	defer rows.Close()

	var out []DirectiveRecord
	for rows.Next() {
		var r DirectiveRecord
		if err := rows.Scan(&r.ID, &r.RuleID, &r.DeviceID, &r.ActionType, &r.Channel, &r.Severity, &r.Command, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the cutoff and returns how many went.
func (s *HistoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"history_events", "history_directives"} {
		col := "occurred_at"
		if table == "history_directives" {
			col = "created_at"
		}
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, col), before.UTC())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
