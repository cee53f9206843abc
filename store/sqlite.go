package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a persistent Store backed by SQLite. Expiry times are stored
// as Unix milliseconds; 0 means no TTL. Expired rows are ignored on read and
// removed on the next write to the same key or by DeleteExpired.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory SQLite database.
func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvgate/store: open sqlite: %w", err)
	}
	// One connection serialises writers, which gives per-key atomicity
	// and keeps a ":memory:" database shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kvgate_entries (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvgate/store: create table: %w", err)
	}

	return &SQLiteStore{db: db, now: o.now}, nil
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func live(expiresAt, now int64) bool {
	return expiresAt == 0 || expiresAt > now
}

// Incr atomically adds one to the integer at key. An expired row is replaced.
func (s *SQLiteStore) Incr(ctx context.Context, key string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("kvgate/store: incr: %w", err)
	}
	defer tx.Rollback()

	var value string
	var expiresAt int64
	now := s.nowMillis()

	err = tx.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kvgate_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) || (err == nil && !live(expiresAt, now)) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO kvgate_entries (key, value, expires_at) VALUES (?, '1', 0)
			 ON CONFLICT(key) DO UPDATE SET value = '1', expires_at = 0`,
			key,
		)
		if err != nil {
			return 0, fmt.Errorf("kvgate/store: incr: %w", err)
		}
		return 1, tx.Commit()
	}
	if err != nil {
		return 0, fmt.Errorf("kvgate/store: incr: %w", err)
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kvgate/store: incr %q: value is not an integer", key)
	}
	n++
	if _, err := tx.ExecContext(ctx,
		`UPDATE kvgate_entries SET value = ? WHERE key = ?`,
		strconv.FormatInt(n, 10), key,
	); err != nil {
		return 0, fmt.Errorf("kvgate/store: incr: %w", err)
	}

	return n, tx.Commit()
}

// Expire sets the TTL of key when cond holds. A non-positive ttl deletes the key.
func (s *SQLiteStore) Expire(ctx context.Context, key string, ttl time.Duration, cond ExpireCondition) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("kvgate/store: expire: %w", err)
	}
	defer tx.Rollback()

	var expiresAt int64
	now := s.nowMillis()

	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM kvgate_entries WHERE key = ?`, key,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kvgate/store: expire: %w", err)
	}
	if !live(expiresAt, now) {
		return false, nil
	}

	current := NoExpiry
	if expiresAt != 0 {
		current = time.Duration(expiresAt-now) * time.Millisecond
	}
	if !cond.allows(current, ttl) {
		return false, nil
	}

	if ttl <= 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM kvgate_entries WHERE key = ?`, key)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE kvgate_entries SET expires_at = ? WHERE key = ?`,
			now+ttl.Milliseconds(), key,
		)
	}
	if err != nil {
		return false, fmt.Errorf("kvgate/store: expire: %w", err)
	}

	return true, tx.Commit()
}

// Get returns the value at key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kvgate_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.nowMillis(),
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvgate/store: get: %w", err)
	}
	return value, true, nil
}

// SetWithTTL stores value at key. A non-positive ttl stores the key without expiry.
func (s *SQLiteStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.nowMillis() + ttl.Milliseconds()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kvgate_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("kvgate/store: set: %w", err)
	}
	return nil
}

// Delete removes key. An expired row is removed but not counted.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("kvgate/store: delete: %w", err)
	}
	defer tx.Rollback()

	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM kvgate_entries WHERE key = ?`, key,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kvgate/store: delete: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kvgate_entries WHERE key = ?`, key); err != nil {
		return 0, fmt.Errorf("kvgate/store: delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("kvgate/store: delete: %w", err)
	}

	if !live(expiresAt, s.nowMillis()) {
		return 0, nil
	}
	return 1, nil
}

// TTL returns the remaining lifetime of key.
func (s *SQLiteStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var expiresAt int64
	now := s.nowMillis()

	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM kvgate_entries WHERE key = ?`, key,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyMissing, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kvgate/store: ttl: %w", err)
	}

	switch {
	case expiresAt == 0:
		return NoExpiry, nil
	case expiresAt <= now:
		return KeyMissing, nil
	default:
		return time.Duration(expiresAt-now) * time.Millisecond, nil
	}
}

// DeleteExpired removes every row whose TTL has elapsed and returns how many
// were removed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kvgate_entries WHERE expires_at != 0 AND expires_at <= ?`,
		s.nowMillis(),
	)
	if err != nil {
		return 0, fmt.Errorf("kvgate/store: delete expired: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
