package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/domain"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS contexts (
		context_id TEXT PRIMARY KEY,
		episode_count INTEGER NOT NULL DEFAULT 0,
		step_count INTEGER NOT NULL DEFAULT 0,
		last_action TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contexts_last_seen ON contexts(last_seen_at);

	CREATE TABLE IF NOT EXISTS episodes (
		episode_id TEXT PRIMARY KEY,
		context_id TEXT NOT NULL,
		steps INTEGER NOT NULL,
		reward REAL NOT NULL,
		cleanup_score REAL NOT NULL,
		reflection TEXT NOT NULL,
		feedback TEXT,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_context ON episodes(context_id, finished_at);
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

// GetContext retrieves a context session by id.
func (s *SQLiteStore) GetContext(ctx context.Context, contextID string) (*domain.ContextSession, error) {
	query := `
		SELECT context_id, episode_count, step_count, last_action,
		       last_seen_at, created_at, updated_at
		FROM contexts WHERE context_id = ?`

	session, err := scanContext(s.db.QueryRowContext(ctx, query, contextID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan context row: %w", err)
	}
	return session, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContext(row rowScanner) (*domain.ContextSession, error) {
	var session domain.ContextSession
	var lastAction sql.NullString
	var lastSeen, createdAt, updatedAt int64

	if err := row.Scan(
		&session.ContextID, &session.EpisodeCount, &session.StepCount, &lastAction,
		&lastSeen, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	session.LastAction = lastAction.String
	session.LastSeenAt = time.Unix(lastSeen, 0)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

// UpsertContext creates or updates a context session. The episode count is
// owned by SaveEpisode and is never lowered here.
func (s *SQLiteStore) UpsertContext(ctx context.Context, session *domain.ContextSession) error {
	query := `
	INSERT INTO contexts (context_id, episode_count, step_count, last_action, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(context_id) DO UPDATE SET
		episode_count = MAX(contexts.episode_count, excluded.episode_count),
		step_count = excluded.step_count,
		last_action = excluded.last_action,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastSeen := session.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = now
	}

	var lastAction any
	if session.LastAction != "" {
		lastAction = session.LastAction
	}

	return s.write(ctx, "upsert context", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ContextID, session.EpisodeCount, session.StepCount, lastAction,
			lastSeen.Unix(), createdAt.Unix(), now.Unix(),
		)
		return err
	})
}

// DeleteContext removes a context session and its episodes.
func (s *SQLiteStore) DeleteContext(ctx context.Context, contextID string) error {
	return s.write(ctx, "delete context", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE context_id = ?`, contextID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contexts WHERE context_id = ?`, contextID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// SaveEpisode stores a finished episode. An empty ID is filled with a UUID and
// a zero FinishedAt with the current time.
func (s *SQLiteStore) SaveEpisode(ctx context.Context, episode *domain.EpisodeRecord) error {
	if episode.ID == "" {
		episode.ID = uuid.NewString()
	}
	if episode.FinishedAt.IsZero() {
		episode.FinishedAt = time.Now()
	}

	var feedback any
	if episode.Feedback != "" {
		feedback = episode.Feedback
	}

	return s.write(ctx, "save episode", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO episodes (episode_id, context_id, steps, reward, cleanup_score, reflection, feedback, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			episode.ID, episode.ContextID, episode.Steps, episode.Reward,
			episode.CleanupScore, episode.Reflection, feedback, episode.FinishedAt.Unix(),
		); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE contexts SET episode_count = episode_count + 1, updated_at = ?
			WHERE context_id = ?`, time.Now().Unix(), episode.ContextID)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			slog.Warn("SaveEpisode found no context row", "context_id", episode.ContextID)
		}
		return tx.Commit()
	})
}

// ListEpisodes returns the newest episodes of a context, at most limit.
func (s *SQLiteStore) ListEpisodes(ctx context.Context, contextID string, limit int) ([]*domain.EpisodeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT episode_id, context_id, steps, reward, cleanup_score, reflection, feedback, finished_at
		FROM episodes WHERE context_id = ?
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, contextID, limit)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close episode rows", "error", closeErr)
		}
	}()

	var episodes []*domain.EpisodeRecord
	for rows.Next() {
		var e domain.EpisodeRecord
		var feedback sql.NullString
		var finishedAt int64
		if err := rows.Scan(
			&e.ID, &e.ContextID, &e.Steps, &e.Reward, &e.CleanupScore,
			&e.Reflection, &feedback, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan episode row: %w", err)
		}
		e.Feedback = feedback.String
		e.FinishedAt = time.Unix(finishedAt, 0)
		episodes = append(episodes, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return episodes, nil
}

// GetExpiredContexts returns contexts not seen within ttl.
func (s *SQLiteStore) GetExpiredContexts(ctx context.Context, ttl time.Duration) ([]*domain.ContextSession, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT context_id, episode_count, step_count, last_action,
		       last_seen_at, created_at, updated_at
		FROM contexts WHERE last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired contexts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired context rows", "error", closeErr)
		}
	}()

	var sessions []*domain.ContextSession
	for rows.Next() {
		session, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired context row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired contexts: %w", err)
	}
	return sessions, nil
}

// CleanupStale removes contexts and episodes older than age. It returns the
// number of context rows removed.
func (s *SQLiteStore) CleanupStale(ctx context.Context, age time.Duration) (int64, error) {
	threshold := time.Now().Add(-age).Unix()
	var deleted int64

	err := s.write(ctx, "cleanup stale", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE finished_at < ?`, threshold); err != nil {
			return err
		}
		result, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE last_seen_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, op, fn)
}
