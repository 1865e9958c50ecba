package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Package db persists the tool-call audit trail. The database holds no
// server state: dropping the file loses history, nothing else. Tool
// arguments are never written here because they may contain free-text
// patient queries.

// Store is the audit persistence interface.
type Store interface {
	// RecordToolCall appends one audit row. Satisfies tools.Recorder.
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, outcome string) error

	// RecentToolCalls returns the newest records, newest first.
	RecentToolCalls(ctx context.Context, limit int) ([]*ToolCallRecord, error)

	// ToolCallCounts returns per-tool call counts since the cutoff.
	ToolCallCounts(ctx context.Context, since time.Time) (map[string]int64, error)

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ToolCallRecord is one audited tool execution.
type ToolCallRecord struct {
	ID         int64     `json:"id"`
	Tool       string    `json:"tool"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	CalledAt   time.Time `json:"called_at"`
}

// Schema versions are tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS tool_calls (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    tool        TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    outcome     TEXT NOT NULL DEFAULT 'ok',
    called_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_called_at ON tool_calls(called_at DESC);
CREATE INDEX IF NOT EXISTS idx_tool_calls_tool      ON tool_calls(tool);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path
// and runs all pending schema migrations. Pass ":memory:" for an
// in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL mode for better concurrency.
	if _, err := sdb.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: sdb}
	if err := s.migrate(); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) RecordToolCall(ctx context.Context, tool string, duration time.Duration, outcome string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO tool_calls (tool, duration_ms, outcome, called_at)
        VALUES (?, ?, ?, ?)
    `, tool, duration.Milliseconds(), outcome, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record tool call: %w", err)
	}
	return nil
}

func (s *sqliteStore) RecentToolCalls(ctx context.Context, limit int) ([]*ToolCallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, tool, duration_ms, outcome, called_at
        FROM tool_calls
        ORDER BY called_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var results []*ToolCallRecord
	for rows.Next() {
		var r ToolCallRecord
		if err := rows.Scan(&r.ID, &r.Tool, &r.DurationMS, &r.Outcome, &r.CalledAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

func (s *sqliteStore) ToolCallCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT tool, COUNT(*)
        FROM tool_calls
        WHERE called_at >= ?
        GROUP BY tool
    `, since)
	if err != nil {
		return nil, fmt.Errorf("count tool calls: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var tool string
		var n int64
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[tool] = n
	}
	return counts, rows.Err()
}
