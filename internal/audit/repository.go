// Package audit implements the durable event trail: every event published
// on the Event Bus is persisted to a pure-Go SQLite database for operator
// post-mortem queries, separate from the JSON state snapshots used for
// crash recovery (internal/recovery).
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aristath/tradingcore/internal/events"
)

// Entry is one recorded row of the audit trail.
type Entry struct {
	ID          int64
	EventType   events.Type
	Severity    events.Severity
	PortfolioID string
	Symbol      string
	PayloadJSON string
	RecordedAt  time.Time
}

// Repository persists Event Bus traffic into a SQLite-backed audit trail.
type Repository struct {
	db *sql.DB
}

// Open creates (or reopens) the audit database at dbPath, ensuring its
// schema exists. WAL mode mirrors the teacher's own database layer so
// concurrent reads don't block the recorder's writes.
func Open(dbPath string) (*Repository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: failed to initialize schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Record inserts event into the audit trail. portfolioID and symbol are
// best-effort projections pulled from whichever exported fields the
// concrete payload happens to carry, so ad-hoc queries can filter by
// either without every event type needing its own insert statement.
func (r *Repository) Record(event events.Data) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event payload: %w", err)
	}

	portfolioID, symbol := projectFields(event)

	_, err = r.db.Exec(
		`INSERT INTO audit_trail (event_type, severity, portfolio_id, symbol, payload_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(event.EventType()),
		string(severityOf(event.EventType())),
		nullableString(portfolioID),
		nullableString(symbol),
		string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: failed to insert trail entry: %w", err)
	}
	return nil
}

// Recent returns up to limit trail entries, most recent first.
func (r *Repository) Recent(limit int) ([]Entry, error) {
	rows, err := r.db.Query(
		`SELECT id, event_type, severity, portfolio_id, symbol, payload_json, recorded_at
		 FROM audit_trail ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query recent entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByType returns up to limit trail entries of the given event type, most
// recent first.
func (r *Repository) ByType(t events.Type, limit int) ([]Entry, error) {
	rows, err := r.db.Query(
		`SELECT id, event_type, severity, portfolio_id, symbol, payload_json, recorded_at
		 FROM audit_trail WHERE event_type = ? ORDER BY id DESC LIMIT ?`, string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries by type: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Since returns trail entries recorded at or after since, oldest first —
// the shape an operator reconstructing a timeline around an incident wants.
func (r *Repository) Since(since time.Time, limit int) ([]Entry, error) {
	rows, err := r.db.Query(
		`SELECT id, event_type, severity, portfolio_id, symbol, payload_json, recorded_at
		 FROM audit_trail WHERE recorded_at >= ? ORDER BY id ASC LIMIT ?`,
		since.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries since: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var eventType, severity string
		var portfolioID, symbol sql.NullString
		var recordedAt string

		if err := rows.Scan(&e.ID, &eventType, &severity, &portfolioID, &symbol, &e.PayloadJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan trail entry: %w", err)
		}
		e.EventType = events.Type(eventType)
		e.Severity = events.Severity(severity)
		if portfolioID.Valid {
			e.PortfolioID = portfolioID.String
		}
		if symbol.Valid {
			e.Symbol = symbol.String
		}
		if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			e.RecordedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: error iterating trail entries: %w", err)
	}
	return out, nil
}

// severityOf assigns an audit-trail severity from the event's type, since
// most concrete payloads carry no severity field of their own — only
// EmergencyStopEvent does, and it always sets CRITICAL anyway.
func severityOf(t events.Type) events.Severity {
	switch t {
	case events.EmergencyStop:
		return events.SeverityCritical
	case events.RiskSignalRejected, events.OrderRejected:
		return events.SeverityWarning
	default:
		return events.SeverityInfo
	}
}

// projectFields reads "PortfolioID" (uuid.UUID, stringified) and "Symbol"
// (string) off event by reflection when present, returning empty strings
// for payloads that carry neither. Every concrete event payload is a
// plain exported-field struct, so this needs no per-type switch to stay
// correct as new event payloads are added.
func projectFields(event events.Data) (portfolioID, symbol string) {
	v := reflect.ValueOf(event)
	if v.Kind() != reflect.Struct {
		return "", ""
	}

	if f := v.FieldByName("PortfolioID"); f.IsValid() {
		if stringer, ok := f.Interface().(fmt.Stringer); ok {
			portfolioID = stringer.String()
		}
	}
	if f := v.FieldByName("Symbol"); f.IsValid() && f.Kind() == reflect.String {
		symbol = f.String()
	}
	return portfolioID, symbol
}

// Vacuum reclaims space left behind by deleted rows. Safe to run while the
// recorder is writing; callers typically schedule it infrequently since it
// rewrites the whole file.
func (r *Repository) Vacuum() error {
	if _, err := r.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("audit: vacuum failed: %w", err)
	}
	return nil
}

// IntegrityCheck runs SQLite's built-in consistency check and returns an
// error if the database reports anything other than "ok".
func (r *Repository) IntegrityCheck() error {
	var result string
	if err := r.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("audit: integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("audit: integrity check failed: %s", result)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
