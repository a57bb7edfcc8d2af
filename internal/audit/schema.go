package audit

import "database/sql"

// TrailSchema is the durable event-trail table backing operator
// post-mortem queries: every event published on the Event Bus, independent
// of the JSON state snapshots used for crash recovery.
const TrailSchema = `
CREATE TABLE IF NOT EXISTS audit_trail (
    id INTEGER PRIMARY KEY,
    event_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    portfolio_id TEXT,
    symbol TEXT,
    payload_json TEXT NOT NULL,
    recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_trail_event_type ON audit_trail(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_trail_recorded_at ON audit_trail(recorded_at);
CREATE INDEX IF NOT EXISTS idx_audit_trail_portfolio ON audit_trail(portfolio_id);
`

func initSchema(db *sql.DB) error {
	_, err := db.Exec(TrailSchema)
	return err
}
