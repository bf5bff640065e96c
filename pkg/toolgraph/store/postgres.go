package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists workflows and runs to PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and creates the tables if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.CreateTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool. Tables are not created.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateTables creates the workflow and run tables.
func (s *PostgresStore) CreateTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(255) PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			definition JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(255) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			status VARCHAR(50) NOT NULL,
			data JSONB NOT NULL,
			sequence BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_runs_workflow_id ON runs (workflow_id);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) ready() error {
	if s.pool == nil {
		return ErrStoreClosed
	}
	return nil
}

// SaveWorkflow implements Store.
func (s *PostgresStore) SaveWorkflow(ctx context.Context, w WorkflowRecord) error {
	if err := validateWorkflow(w); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	w.CreatedAt, w.UpdatedAt = stamp(w.CreatedAt, w.UpdatedAt)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, name, description, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
	`, w.ID, w.Name, w.Description, jsonText(w.Definition), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// LoadWorkflow implements Store.
func (s *PostgresStore) LoadWorkflow(ctx context.Context, id string) (WorkflowRecord, error) {
	if err := s.ready(); err != nil {
		return WorkflowRecord{}, err
	}

	var w WorkflowRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, definition::text, created_at, updated_at
		FROM workflows WHERE id = $1
	`, id).Scan(&w.ID, &w.Name, &w.Description, &w.Definition, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkflowRecord{}, ErrNotFound
	}
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("load workflow: %w", err)
	}
	return w, nil
}

// ListWorkflows implements Store.
func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]WorkflowRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, definition::text, created_at, updated_at
		FROM workflows ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	out := make([]WorkflowRecord, 0)
	for rows.Next() {
		var w WorkflowRecord
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.Definition, &w.CreatedAt, &w.UpdatedAt); err != nil {
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
func (s *PostgresStore) SaveRun(ctx context.Context, r RunRecord) error {
	if err := validateRun(r); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	r.CreatedAt, r.UpdatedAt = stamp(r.CreatedAt, r.UpdatedAt)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, workflow_id, status, data, sequence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			data = EXCLUDED.data,
			sequence = EXCLUDED.sequence,
			updated_at = EXCLUDED.updated_at
		WHERE runs.sequence <= EXCLUDED.sequence
	`, r.ID, r.WorkflowID, r.Status, jsonText(r.Data), r.Sequence, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (s *PostgresStore) LoadRun(ctx context.Context, id string) (RunRecord, error) {
	if err := s.ready(); err != nil {
		return RunRecord{}, err
	}

	var r RunRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, status, data::text, sequence, created_at, updated_at
		FROM runs WHERE id = $1
	`, id).Scan(&r.ID, &r.WorkflowID, &r.Status, &r.Data, &r.Sequence, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("load run: %w", err)
	}
	return r, nil
}

// ListRuns implements Store.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query, args := buildListRunsQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunRecord, 0)
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.Status, &r.Data, &r.Sequence, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func jsonText(b []byte) string {
	if len(b) == 0 {
		return "null"
	}
	return string(b)
}

// buildListRunsQuery constructs the SQL query for listing runs.
func buildListRunsQuery(filter RunFilter) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT id, workflow_id, status, data::text, sequence, created_at, updated_at FROM runs WHERE 1=1")

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		fmt.Fprintf(&sb, " AND workflow_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}

	sb.WriteString(" ORDER BY created_at DESC, id DESC")

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

// DeleteRun implements Store.
func (s *PostgresStore) DeleteRun(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}
