package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/ashureev/batchbot/internal/shared"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	opts  Options
	retry shared.ConflictRetry
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts Options) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for better concurrency.
		dsn = dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := newSQLiteStore(db, opts)
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func newSQLiteStore(db *sql.DB, opts Options) *SQLiteStore {
	return &SQLiteStore{db: db, opts: opts, retry: shared.DefaultConflictRetry}
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_email TEXT NOT NULL DEFAULT '',
		bot_state TEXT NOT NULL,
		state_json TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS result_summaries (
		session_id TEXT PRIMARY KEY,
		summary_json TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_result_summaries_expires ON result_summaries(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadSession retrieves session state or the default state.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT state_json FROM sessions WHERE session_id = ? AND expires_at > ?`

	var stateJSON string
	err := s.db.QueryRowContext(ctx, query, id, s.opts.now().Unix()).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return s.opts.defaultSession(id), nil
	}
	if err != nil {
		return nil, domain.StoreFailure("load session", err)
	}

	session, err := decodeSession([]byte(stateJSON))
	if err != nil {
		return nil, domain.StoreFailure("load session", err)
	}
	return session, nil
}

// SaveSession creates or replaces session state.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sessions (session_id, user_email, bot_state, state_json, expires_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		user_email = excluded.user_email,
		bot_state = excluded.bot_state,
		state_json = excluded.state_json,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`

	now := s.opts.now()
	err = s.retry.RetryOnConflict(ctx, "save session", func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			session.ID, session.Owner, session.State.String(), string(data),
			now.Add(ttl).Unix(), session.CreatedAt.Unix(), now.Unix(),
		)
		return execErr
	})
	if err != nil {
		return domain.StoreFailure("save session", err)
	}
	return nil
}

// DeleteSession removes session state and its pending summary.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	err := s.retry.RetryOnConflict(ctx, "delete session", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM result_summaries WHERE session_id = ?`, id); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return domain.StoreFailure("delete session", err)
	}
	return nil
}

// SaveSummary creates or replaces a result summary.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sessionID string, sum domain.ResultSummary, ttl time.Duration) error {
	data, err := encodeSummary(sum)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO result_summaries (session_id, summary_json, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		summary_json = excluded.summary_json,
		expires_at = excluded.expires_at`

	expires := s.opts.now().Add(ttl).Unix()
	err = s.retry.RetryOnConflict(ctx, "save summary", func() error {
		_, execErr := s.db.ExecContext(ctx, query, sessionID, string(data), expires)
		return execErr
	})
	if err != nil {
		return domain.StoreFailure("save summary", err)
	}
	return nil
}

// LoadSummary retrieves a pending result summary.
func (s *SQLiteStore) LoadSummary(ctx context.Context, sessionID string) (*domain.ResultSummary, error) {
	query := `SELECT summary_json FROM result_summaries WHERE session_id = ? AND expires_at > ?`

	var summaryJSON string
	err := s.db.QueryRowContext(ctx, query, sessionID, s.opts.now().Unix()).Scan(&summaryJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreFailure("load summary", err)
	}

	sum, err := decodeSummary([]byte(summaryJSON))
	if err != nil {
		return nil, domain.StoreFailure("load summary", err)
	}
	return sum, nil
}

// DeleteSummary removes a pending result summary.
func (s *SQLiteStore) DeleteSummary(ctx context.Context, sessionID string) error {
	err := s.retry.RetryOnConflict(ctx, "delete summary", func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM result_summaries WHERE session_id = ?`, sessionID)
		return execErr
	})
	if err != nil {
		return domain.StoreFailure("delete summary", err)
	}
	return nil
}

// DeleteExpired removes expired sessions and summaries.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.opts.now().Unix()

	sessions, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, domain.StoreFailure("delete expired sessions", err)
	}
	summaries, err := s.db.ExecContext(ctx, `DELETE FROM result_summaries WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, domain.StoreFailure("delete expired summaries", err)
	}

	n1, err := sessions.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	n2, err := summaries.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n1 + n2, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
