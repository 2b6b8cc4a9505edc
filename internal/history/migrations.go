package history

import (
	"database/sql"

	"github.com/HerbHall/netmedic/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create history tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS history_events (
						id TEXT PRIMARY KEY,
						device_id TEXT NOT NULL,
						kind TEXT NOT NULL,
						classification TEXT NOT NULL,
						message TEXT,
						payload TEXT,
						occurred_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_history_events_device_time ON history_events(device_id, occurred_at)`,
					`CREATE INDEX IF NOT EXISTS idx_history_events_class ON history_events(classification, occurred_at)`,

					`CREATE TABLE IF NOT EXISTS history_directives (
						id TEXT PRIMARY KEY,
						rule_id TEXT NOT NULL,
						device_id TEXT NOT NULL,
						action_type TEXT NOT NULL,
						channel TEXT,
						severity TEXT,
						command TEXT,
						trigger_event_id TEXT,
						created_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_history_directives_device_time ON history_directives(device_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_history_directives_rule ON history_directives(rule_id, created_at)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
