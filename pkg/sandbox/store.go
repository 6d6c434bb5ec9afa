package sandbox

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Journal persists lifecycle events to sqlite so operators can audit
// which tenant held which sandbox and why it went away. Writes are
// best-effort; the manager logs and continues if the journal is down.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (creating if needed) the journal database at path.
// The path must be non-empty; callers that want journaling off hand the
// manager a nil *Journal instead. An empty path would make sqlite open
// an anonymous temporary database and silently record into it.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	if err := createJournalTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal tables: %w", err)
	}

	return &Journal{db: db}, nil
}

func createJournalTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS lifecycle_events (
		id TEXT PRIMARY KEY,
		event TEXT NOT NULL,
		user_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		sandbox_id TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lifecycle_events_tenant ON lifecycle_events(user_id, project_id);
	CREATE INDEX IF NOT EXISTS idx_lifecycle_events_created_at ON lifecycle_events(created_at);
	`

	_, err := db.Exec(query)
	return err
}

// Record appends one event. Failures are logged, not returned, so the
// journal can never fail a lifecycle operation.
func (j *Journal) Record(evt Event) {
	query := `INSERT INTO lifecycle_events
		(id, event, user_id, project_id, sandbox_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query,
		evt.ID, string(evt.Type), evt.UserID, evt.ProjectID,
		evt.SandboxID, evt.Detail, evt.Timestamp)
	if err != nil {
		log.Warn().Err(err).
			Str("event", string(evt.Type)).
			Str("sandbox_id", evt.SandboxID).
			Msg("Failed to journal lifecycle event")
	}
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	query := `SELECT id, event, user_id, project_id, sandbox_id, detail, created_at
		FROM lifecycle_events ORDER BY created_at DESC LIMIT ?`

	rows, err := j.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var eventType string
		var createdAt time.Time
		if err := rows.Scan(&evt.ID, &eventType, &evt.UserID, &evt.ProjectID,
			&evt.SandboxID, &evt.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		evt.Type = EventType(eventType)
		evt.Timestamp = createdAt
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
