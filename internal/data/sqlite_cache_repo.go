package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/target/sessionsync/internal/errors"

	// Register the pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key  TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteCacheRepo implements the CacheRepository interface on a local SQLite file,
// so cached roles and the last-known state survive process restarts.
// expires_at is unix milliseconds; 0 means the entry never expires.
type SQLiteCacheRepo struct {
	db    *sql.DB
	clock TimeProvider
}

// SQLiteCacheOptions configures OpenSQLiteCache.
type SQLiteCacheOptions struct {
	Path  string
	Clock TimeProvider
}

// OpenSQLiteCache opens (creating if needed) the cache database at opts.Path.
func OpenSQLiteCache(ctx context.Context, opts SQLiteCacheOptions) (*SQLiteCacheRepo, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("sqlite cache path is required")
	}

	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between our own connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite cache: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteCacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &SQLiteCacheRepo{db: db, clock: nowOrReal(opts.Clock)}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteCacheRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteCacheRepo) nowMillis() int64 {
	return r.clock.Now().UnixMilli()
}

func (r *SQLiteCacheRepo) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return r.clock.Now().Add(ttl).UnixMilli()
}

// Set upserts value under key.
func (r *SQLiteCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, r.expiresAt(ttl),
	)
	if err != nil {
		return apperrors.CacheUnavailable(fmt.Errorf("sqlite set: %w", err))
	}
	return nil
}

// Get returns the value for key, or nil if it is missing or expired. Expired rows are deleted.
func (r *SQLiteCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	var value []byte
	var expires int64
	err := r.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.CacheUnavailable(fmt.Errorf("sqlite get: %w", err))
	}

	if expires != 0 && expires <= r.nowMillis() {
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE cache_key = ? AND expires_at = ?`, key, expires,
		); err != nil {
			return nil, apperrors.CacheUnavailable(fmt.Errorf("sqlite purge expired: %w", err))
		}
		return nil, nil
	}
	return value, nil
}

// Delete removes key. It reports false when no live entry existed.
func (r *SQLiteCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	existed, err := r.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("sqlite delete: %w", err))
	}
	return existed, nil
}

// Exists reports whether a live entry exists for key.
func (r *SQLiteCacheRepo) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM cache_entries WHERE cache_key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, r.nowMillis(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("sqlite exists: %w", err))
	}
	return true, nil
}

// SetTTL replaces the expiry of a live entry.
func (r *SQLiteCacheRepo) SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE cache_entries SET expires_at = ? WHERE cache_key = ? AND (expires_at = 0 OR expires_at > ?)`,
		r.expiresAt(ttl), key, r.nowMillis(),
	)
	if err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("sqlite set ttl: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("sqlite set ttl rows: %w", err))
	}
	return n > 0, nil
}

// SetIfNotExists inserts value only when no live entry exists. An expired row is replaced.
// A non-positive TTL is raised to one second, matching the Redis backend.
func (r *SQLiteCacheRepo) SetIfNotExists(
	ctx context.Context,
	key string,
	value []byte,
	ttl time.Duration,
) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		WHERE cache_entries.expires_at != 0 AND cache_entries.expires_at <= ?`,
		key, value, r.expiresAt(ttl), r.nowMillis(),
	)
	if err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("sqlite set nx: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("sqlite set nx rows: %w", err))
	}
	return n > 0, nil
}

// Health pings the database.
func (r *SQLiteCacheRepo) Health(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return apperrors.CacheUnavailable(err)
	}
	return nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (r *SQLiteCacheRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at != 0 AND expires_at <= ?`, r.nowMillis(),
	)
	if err != nil {
		return 0, apperrors.CacheUnavailable(fmt.Errorf("sqlite purge expired: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.CacheUnavailable(fmt.Errorf("sqlite purge expired rows: %w", err))
	}
	return n, nil
}
