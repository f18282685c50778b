// Package sqlite stores decryption sessions in a local SQLite database, for setups where
// several processes share one session cache.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/scriptvault/internal/vault"
	"github.com/aretw0/scriptvault/pkg/core"

	_ "modernc.org/sqlite"
)

// Config holds the configuration for the SQLite session store.
type Config struct {
	// Path of the database file. Parent directories are created with 0700.
	Path   string
	Secret []byte
	Logger *slog.Logger
}

// Store implements core.SessionStore over SQLite.
type Store struct {
	db     *sql.DB
	path   string
	sealer *vault.Sealer
	logger *slog.Logger
}

// Open opens (or creates) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sealer, err := vault.NewSealer(cfg.Secret, "sessions")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	// Other processes may hold the write lock; wait for them instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection per process; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: cfg.Path, sealer: sealer, logger: cfg.Logger}, nil
}

// Initialize creates the schema.
func (s *Store) Initialize(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		user TEXT NOT NULL,
		record JSON NOT NULL,
		valid_until INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate sessions table: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to restrict database permissions", "path", s.path, "error", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (core.DecryptionSession, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM sessions WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DecryptionSession{}, core.ErrSessionNotFound
	}
	if err != nil {
		return core.DecryptionSession{}, fmt.Errorf("read session: %w", err)
	}
	var rec vault.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("corrupted session record, ignoring", "key", key, "error", err)
		return core.DecryptionSession{}, core.ErrSessionNotFound
	}
	sess, err := s.sealer.OpenSession(rec)
	if err != nil {
		s.logger.Warn("unreadable session record, ignoring", "key", key, "error", err)
		return core.DecryptionSession{}, core.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) Put(ctx context.Context, key string, sess core.DecryptionSession) error {
	rec, err := s.sealer.SealSession(sess)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, user, record, valid_until, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			user = excluded.user,
			record = excluded.record,
			valid_until = excluded.valid_until,
			updated_at = excluded.updated_at`,
		key, sess.User.Hex(), string(raw), sess.ValidUntil(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteMatching removes keys matching a doublestar pattern in one write transaction.
// The write lock is taken before the keys are read, so a session stored concurrently by
// another process is either seen and deleted or written after the invalidation.
func (s *Store) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if !doublestar.ValidatePattern(pattern) {
		return 0, fmt.Errorf("%w: bad pattern %q", core.ErrInvalidInput, pattern)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE 0`); err != nil {
		return 0, fmt.Errorf("lock sessions: %w", err)
	}
	keys, err := queryKeys(ctx, tx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, key := range keys {
		if ok, _ := doublestar.Match(pattern, key); !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
			return 0, fmt.Errorf("delete session: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return queryKeys(ctx, s.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryKeys(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT key FROM sessions ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PurgeExpired deletes sessions whose window ended before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE valid_until <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "sqlite-session-store"
}

var _ core.SessionStore = (*Store)(nil)
