package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Repository using PostgreSQL.
type PostgresStore struct {
	db   *sql.DB
	opts Options
}

// NewPostgres connects to PostgreSQL and creates the schema if needed.
func NewPostgres(ctx context.Context, dsn string, opts Options) (*PostgresStore, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := newPostgresStore(db, opts)
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func newPostgresStore(db *sql.DB, opts Options) *PostgresStore {
	return &PostgresStore{db: db, opts: opts}
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_email TEXT NOT NULL DEFAULT '',
		bot_state TEXT NOT NULL,
		state_json JSONB NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS result_summaries (
		session_id TEXT PRIMARY KEY,
		summary_json JSONB NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_result_summaries_expires ON result_summaries(expires_at);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadSession retrieves session state or the default state.
func (s *PostgresStore) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	var stateJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM sessions WHERE session_id = $1 AND expires_at > $2`,
		id, s.opts.now(),
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return s.opts.defaultSession(id), nil
	}
	if err != nil {
		return nil, domain.StoreFailure("load session", err)
	}

	session, err := decodeSession(stateJSON)
	if err != nil {
		return nil, domain.StoreFailure("load session", err)
	}
	return session, nil
}

// SaveSession creates or replaces session state.
func (s *PostgresStore) SaveSession(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}

	now := s.opts.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_email, bot_state, state_json, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			user_email = EXCLUDED.user_email,
			bot_state = EXCLUDED.bot_state,
			state_json = EXCLUDED.state_json,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		session.ID, session.Owner, session.State.String(), string(data),
		now.Add(ttl), session.CreatedAt, now,
	)
	if err != nil {
		return domain.StoreFailure("save session", err)
	}
	return nil
}

// DeleteSession removes session state and its pending summary.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreFailure("delete session", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, id); err != nil {
		return domain.StoreFailure("delete session", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM result_summaries WHERE session_id = $1`, id); err != nil {
		return domain.StoreFailure("delete session", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.StoreFailure("delete session", err)
	}
	return nil
}

// SaveSummary creates or replaces a result summary.
func (s *PostgresStore) SaveSummary(ctx context.Context, sessionID string, sum domain.ResultSummary, ttl time.Duration) error {
	data, err := encodeSummary(sum)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO result_summaries (session_id, summary_json, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			summary_json = EXCLUDED.summary_json,
			expires_at = EXCLUDED.expires_at`,
		sessionID, string(data), s.opts.now().Add(ttl),
	)
	if err != nil {
		return domain.StoreFailure("save summary", err)
	}
	return nil
}

// LoadSummary retrieves a pending result summary.
func (s *PostgresStore) LoadSummary(ctx context.Context, sessionID string) (*domain.ResultSummary, error) {
	var summaryJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_json FROM result_summaries WHERE session_id = $1 AND expires_at > $2`,
		sessionID, s.opts.now(),
	).Scan(&summaryJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreFailure("load summary", err)
	}

	sum, err := decodeSummary(summaryJSON)
	if err != nil {
		return nil, domain.StoreFailure("load summary", err)
	}
	return sum, nil
}

// DeleteSummary removes a pending result summary.
func (s *PostgresStore) DeleteSummary(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM result_summaries WHERE session_id = $1`, sessionID); err != nil {
		return domain.StoreFailure("delete summary", err)
	}
	return nil
}

// DeleteExpired removes expired sessions and summaries.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.opts.now()

	sessions, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, domain.StoreFailure("delete expired sessions", err)
	}
	summaries, err := s.db.ExecContext(ctx, `DELETE FROM result_summaries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, domain.StoreFailure("delete expired summaries", err)
	}

	n, err := sessions.RowsAffected()
	if err != nil {
		return 0, domain.StoreFailure("delete expired sessions", err)
	}
	m, err := summaries.RowsAffected()
	if err != nil {
		return 0, domain.StoreFailure("delete expired summaries", err)
	}
	return n + m, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
