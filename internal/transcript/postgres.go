package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists transcripts in PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS prompt_transcripts (
			request_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			pages INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			enqueued_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_prompt_transcripts_user_completed ON prompt_transcripts (user_id, completed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const transcriptColumns = `request_id, user_id, display_name, prompt, response, pages, outcome, error, pii_redacted, enqueued_at, completed_at`

func (s *PostgresStore) Save(ctx context.Context, t Transcript) error {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_transcripts (`+transcriptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (request_id) DO UPDATE SET
			response = EXCLUDED.response,
			pages = EXCLUDED.pages,
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		t.RequestID,
		t.UserID,
		t.DisplayName,
		t.Prompt,
		t.Response,
		t.Pages,
		string(t.Outcome),
		t.Error,
		t.PIIRedacted,
		t.EnqueuedAt,
		t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID string) (Transcript, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transcriptColumns+` FROM prompt_transcripts WHERE request_id=$1`,
		requestID,
	)
	t, err := scanTranscript(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transcript{}, ErrNotFound
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("get transcript: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+transcriptColumns+` FROM prompt_transcripts
		 WHERE user_id=$1 ORDER BY completed_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent transcripts: %w", err)
	}
	defer rows.Close()

	items := make([]Transcript, 0, limit)
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return items, nil
}

func scanTranscript(row pgx.Row) (Transcript, error) {
	var (
		t       Transcript
		outcome string
	)
	err := row.Scan(&t.RequestID, &t.UserID, &t.DisplayName, &t.Prompt, &t.Response, &t.Pages,
		&outcome, &t.Error, &t.PIIRedacted, &t.EnqueuedAt, &t.CompletedAt)
	t.Outcome = Outcome(outcome)
	return t, err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
