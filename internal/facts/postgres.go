package facts

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists facts in PostgreSQL. De-duplication rides on the
// primary key so concurrent panels cannot double-record.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS facts (
			caller_id TEXT NOT NULL,
			id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (caller_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_facts_caller_created ON facts (caller_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, fact Fact) (bool, error) {
	if fact.ID == "" {
		return false, ErrMissingID
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO facts (caller_id, id, thread_id, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (caller_id, id) DO NOTHING`,
		fact.CallerID,
		fact.ID,
		fact.ThreadID,
		fact.Text,
		fact.PIIRedacted,
		fact.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record fact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) List(ctx context.Context, callerID string) ([]Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT caller_id, id, thread_id, content, pii_redacted, created_at
		 FROM facts WHERE caller_id=$1 ORDER BY created_at`,
		callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var items []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.CallerID, &f.ID, &f.ThreadID, &f.Text, &f.PIIRedacted, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ClearThread(ctx context.Context, callerID, threadID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM facts WHERE caller_id=$1 AND thread_id=$2`,
		callerID, threadID,
	); err != nil {
		return fmt.Errorf("clear thread facts: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
