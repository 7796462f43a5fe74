// Package index keeps a small sqlite catalog of every session ever
// persisted. The JSONL log stays the ground truth for replay; the
// catalog only serves "list recent sessions" beyond the bounded
// in-memory window and locates a session's log file for recovery.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one cataloged session.
type Entry struct {
	RunID      string `json:"runId"`
	Source     string `json:"source,omitempty"`
	Status     string `json:"status"`
	StartedAt  int64  `json:"startedAt"`
	EndedAt    *int64 `json:"endedAt,omitempty"`
	AgentCount int    `json:"agentCount"`
	SpanCount  int    `json:"spanCount"`
	LogPath    string `json:"-"`
}

// Catalog is a sqlite-backed session index.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database.
func Open(dsn string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			run_id TEXT PRIMARY KEY,
			source TEXT,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			agent_count INTEGER NOT NULL DEFAULT 0,
			span_count INTEGER NOT NULL DEFAULT 0,
			log_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)`,
	}
	for _, m := range migrations {
		if _, err := c.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Upsert inserts or replaces a session entry.
func (c *Catalog) Upsert(e Entry) error {
	_, err := c.db.Exec(`
		INSERT INTO sessions (run_id, source, status, started_at, ended_at, agent_count, span_count, log_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			source = excluded.source,
			status = excluded.status,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			agent_count = excluded.agent_count,
			span_count = excluded.span_count,
			log_path = excluded.log_path`,
		e.RunID, e.Source, e.Status, e.StartedAt, e.EndedAt, e.AgentCount, e.SpanCount, e.LogPath)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// Recent returns cataloged sessions, newest first.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT run_id, source, status, started_at, ended_at, agent_count, span_count, log_path
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one cataloged session, or nil when unknown.
func (c *Catalog) Get(ctx context.Context, runID string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT run_id, source, status, started_at, ended_at, agent_count, span_count, log_path
		FROM sessions WHERE run_id = ?`, runID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var source, logPath sql.NullString
	var endedAt sql.NullInt64
	if err := row.Scan(&e.RunID, &source, &e.Status, &e.StartedAt, &endedAt, &e.AgentCount, &e.SpanCount, &logPath); err != nil {
		return e, err
	}
	e.Source = source.String
	e.LogPath = logPath.String
	if endedAt.Valid {
		e.EndedAt = &endedAt.Int64
	}
	return e, nil
}
