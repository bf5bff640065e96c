package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists workflows and runs to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	definition BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	status TEXT NOT NULL,
	data BLOB NOT NULL,
	sequence INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_workflow_id ON runs(workflow_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// NewSQLiteStore creates a new SQLite store.
// The path should be a file path (e.g., "./toolgraph.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A :memory: database is per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// SaveWorkflow implements Store.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w WorkflowRecord) error {
	if err := validateWorkflow(w); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	w.CreatedAt, w.UpdatedAt = stamp(w.CreatedAt, w.UpdatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, w.ID, w.Name, w.Description, nonNil(w.Definition), formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// LoadWorkflow implements Store.
func (s *SQLiteStore) LoadWorkflow(ctx context.Context, id string) (WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return WorkflowRecord{}, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, definition, created_at, updated_at
		FROM workflows WHERE id = ?
	`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowRecord{}, ErrNotFound
	}
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("load workflow: %w", err)
	}
	return w, nil
}

// ListWorkflows implements Store.
func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, definition, created_at, updated_at
		FROM workflows ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	out := make([]WorkflowRecord, 0)
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return out, nil
}

// SaveRun implements Store.
func (s *SQLiteStore) SaveRun(ctx context.Context, r RunRecord) error {
	if err := validateRun(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	r.CreatedAt, r.UpdatedAt = stamp(r.CreatedAt, r.UpdatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, data, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			sequence = excluded.sequence,
			updated_at = excluded.updated_at
		WHERE excluded.sequence >= runs.sequence
	`, r.ID, r.WorkflowID, r.Status, nonNil(r.Data), r.Sequence, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (s *SQLiteStore) LoadRun(ctx context.Context, id string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return RunRecord{}, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, data, sequence, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("load run: %w", err)
	}
	return r, nil
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var (
		where []string
		args  []any
	)
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT id, workflow_id, status, data, sequence, created_at, updated_at FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunRecord, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// DeleteRun implements Store.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (WorkflowRecord, error) {
	var (
		w                WorkflowRecord
		created, updated string
	)
	if err := row.Scan(&w.ID, &w.Name, &w.Description, &w.Definition, &created, &updated); err != nil {
		return WorkflowRecord{}, err
	}
	w.CreatedAt = parseTime(created)
	w.UpdatedAt = parseTime(updated)
	return w, nil
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		r                RunRecord
		created, updated string
	)
	if err := row.Scan(&r.ID, &r.WorkflowID, &r.Status, &r.Data, &r.Sequence, &created, &updated); err != nil {
		return RunRecord{}, err
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}
