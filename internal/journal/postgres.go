package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const schema = `CREATE TABLE IF NOT EXISTS action_decisions (
	id           BIGSERIAL PRIMARY KEY,
	action_id    TEXT NOT NULL,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL,
	location     TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	reviewer     TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	resolved_at  TIMESTAMPTZ NOT NULL
)`

// PostgresStore writes decisions to the action_decisions table.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn, pings, and ensures the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create action_decisions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, d Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_decisions
			(action_id, name, description, location, outcome, reason, reviewer, submitted_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ActionID, d.Name, d.Description, d.Location, string(d.Outcome), d.Reason, d.Reviewer,
		d.SubmittedAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision for %s: %w", d.ActionID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Decision, error) {
	query := `SELECT action_id, name, description, location, outcome, reason, reviewer, submitted_at, resolved_at
		FROM action_decisions ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var outcome string
		if err := rows.Scan(&d.ActionID, &d.Name, &d.Description, &d.Location, &outcome,
			&d.Reason, &d.Reviewer, &d.SubmittedAt, &d.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Outcome = Outcome(outcome)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
