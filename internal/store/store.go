// Package store is the Postgres-backed conversation.Store, used when
// DATABASE_URL is set so sessions survive process restarts. Per-session
// serialization comes from a row lock on the session, so concurrent appends
// on one session cannot interleave while different sessions proceed in
// parallel.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/marquee/internal/conversation"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

// Migrate creates the conversation tables if they don't exist yet.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id         text PRIMARY KEY,
			created_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS turns (
			id         uuid PRIMARY KEY,
			session_id text NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq        bigint NOT NULL,
			role       text NOT NULL,
			content    text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			UNIQUE (session_id, seq)
		);
		CREATE TABLE IF NOT EXISTS session_preferences (
			session_id text NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			key        text NOT NULL,
			vals       text[] NOT NULL,
			PRIMARY KEY (session_id, key)
		);`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Start creates or resets the session. A restart wipes its turns and
// preferences, matching the in-memory store's policy.
func (s *PGStore) Start(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET created_at = now()`, id)
	if err != nil {
		return "", fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM turns WHERE session_id = $1`, id); err != nil {
		return "", fmt.Errorf("reset turns: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM session_preferences WHERE session_id = $1`, id); err != nil {
		return "", fmt.Errorf("reset preferences: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// lockSession takes the per-session row lock, mapping a missing row to
// conversation.ErrSessionNotFound.
func lockSession(ctx context.Context, tx pgx.Tx, id string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	return nil
}

func (s *PGStore) Append(ctx context.Context, id string, role conversation.Role, text string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockSession(ctx, tx, id); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO turns (id, session_id, seq, role, content)
		VALUES ($1, $2, (SELECT coalesce(max(seq), 0) + 1 FROM turns WHERE session_id = $2), $3, $4)`,
		uuid.New(), id, string(role), text,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PGStore) Read(ctx context.Context, id string) ([]conversation.Turn, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM sessions WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversation.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at FROM turns
		WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var turn conversation.Turn
		var role string
		if err := rows.Scan(&role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = conversation.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func (s *PGStore) MergePreferences(ctx context.Context, id string, prefs conversation.Preferences) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockSession(ctx, tx, id); err != nil {
		return err
	}

	for key, values := range prefs {
		var existing []string
		err := tx.QueryRow(ctx, `
			SELECT vals FROM session_preferences
			WHERE session_id = $1 AND key = $2`, id, key).Scan(&existing)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read preference %s: %w", key, err)
		}

		merged := conversation.Preferences{key: existing}
		merged.Merge(conversation.Preferences{key: values})

		_, err = tx.Exec(ctx, `
			INSERT INTO session_preferences (session_id, key, vals)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id, key) DO UPDATE SET vals = EXCLUDED.vals`,
			id, key, merged[key],
		)
		if err != nil {
			return fmt.Errorf("upsert preference %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PGStore) Preferences(ctx context.Context, id string) (conversation.Preferences, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM sessions WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversation.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, vals FROM session_preferences WHERE session_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(conversation.Preferences)
	for rows.Next() {
		var key string
		var values []string
		if err := rows.Scan(&key, &values); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs[key] = values
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return prefs, nil
}

// Clear drops the session and everything hanging off it. Unknown identifiers
// are a no-op.
func (s *PGStore) Clear(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
