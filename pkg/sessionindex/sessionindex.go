// Package sessionindex maintains a SQLite-backed lookup from agent slug to
// the session IDs that agent has produced, supporting "list-sessions" and
// follow-up discovery (picking a previousSessionId without the caller
// having to scan the filesystem).
package sessionindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	agent_slug   TEXT NOT NULL,
	query        TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	completed    BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_agent_slug ON sessions(agent_slug);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
`

// Record is one indexed session.
type Record struct {
	SessionID string
	AgentSlug string
	Query     string
	CreatedAt time.Time
	Completed bool
}

// Index is a SQLite-backed session index. One Index should be shared
// across a process; it is safe for concurrent use (database/sql pools
// connections internally).
type Index struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sessionindex: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers; avoid pool contention

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionindex: failed to open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionindex: failed to create schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// Record inserts or updates a session's entry.
func (i *Index) Record(ctx context.Context, r Record) error {
	_, err := i.db.ExecContext(ctx, `
INSERT INTO sessions (session_id, agent_slug, query, created_at, completed)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET completed = excluded.completed
`, r.SessionID, r.AgentSlug, r.Query, r.CreatedAt, r.Completed)
	if err != nil {
		return fmt.Errorf("sessionindex: failed to record session %s: %w", r.SessionID, err)
	}
	return nil
}

// MarkCompleted flips a session's completed flag to true.
func (i *Index) MarkCompleted(ctx context.Context, sessionID string) error {
	_, err := i.db.ExecContext(ctx, `UPDATE sessions SET completed = 1 WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("sessionindex: failed to mark %s completed: %w", sessionID, err)
	}
	return nil
}

// ListByAgent returns every session recorded for agentSlug, most recent
// first.
func (i *Index) ListByAgent(ctx context.Context, agentSlug string) ([]Record, error) {
	rows, err := i.db.QueryContext(ctx, `
SELECT session_id, agent_slug, query, created_at, completed
FROM sessions
WHERE agent_slug = ?
ORDER BY created_at DESC
`, agentSlug)
	if err != nil {
		return nil, fmt.Errorf("sessionindex: failed to list sessions for %s: %w", agentSlug, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.SessionID, &r.AgentSlug, &r.Query, &r.CreatedAt, &r.Completed); err != nil {
			return nil, fmt.Errorf("sessionindex: failed to scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionindex: row iteration error: %w", err)
	}
	return out, nil
}

// LatestCompleted returns the most recently completed session for
// agentSlug, for use as a default previousSessionId in follow-up runs.
func (i *Index) LatestCompleted(ctx context.Context, agentSlug string) (Record, bool, error) {
	row := i.db.QueryRowContext(ctx, `
SELECT session_id, agent_slug, query, created_at, completed
FROM sessions
WHERE agent_slug = ? AND completed = 1
ORDER BY created_at DESC
LIMIT 1
`, agentSlug)

	var r Record
	if err := row.Scan(&r.SessionID, &r.AgentSlug, &r.Query, &r.CreatedAt, &r.Completed); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("sessionindex: failed to query latest completed session for %s: %w", agentSlug, err)
	}
	return r, true, nil
}
