// Package store persists per-identity quota records in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/agorai/agorai/pkg/models"
)

// ErrLimitReached is returned by Increment when the record is already at the
// daily limit for the given window.
var ErrLimitReached = errors.New("daily limit reached")

// Store reads and mutates QuotaRecord rows.
type Store interface {
	// Get returns the record for key. ok is false when none exists.
	Get(ctx context.Context, key string) (rec models.QuotaRecord, ok bool, err error)
	// Increment atomically counts one request for key on day, resetting the
	// counter when the stored window is older than day. It returns
	// ErrLimitReached without mutating anything when count >= limit on day.
	Increment(ctx context.Context, key, day string, limit int) (models.QuotaRecord, error)
	// Reset deletes the record for key.
	Reset(ctx context.Context, key string) error
	// List returns all records, most recently updated first.
	List(ctx context.Context) ([]models.QuotaRecord, error)
	// Ping checks the connection.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

const createSQLiteTable = `
CREATE TABLE IF NOT EXISTS user_queries (
	identity_key TEXT PRIMARY KEY,
	query_count INTEGER NOT NULL DEFAULT 0,
	window_date TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const createPostgresTable = `
CREATE TABLE IF NOT EXISTS user_queries (
	identity_key TEXT PRIMARY KEY,
	query_count INTEGER NOT NULL DEFAULT 0,
	window_date TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// The WHERE clause on the conflict branch makes the limit check and the
// increment one statement; zero affected rows means the limit was reached.
const incrementSQL = `
INSERT INTO user_queries (identity_key, query_count, window_date, updated_at)
VALUES (?, 1, ?, ?)
ON CONFLICT (identity_key) DO UPDATE SET
	query_count = CASE WHEN user_queries.window_date < excluded.window_date THEN 1 ELSE user_queries.query_count + 1 END,
	window_date = excluded.window_date,
	updated_at = excluded.updated_at
WHERE user_queries.window_date < excluded.window_date OR user_queries.query_count < ?
`

// Open connects to the store named by dsn and runs auto-migration.
// postgres:// and postgresql:// URLs use pgx; anything else is a SQLite
// path, optionally prefixed with sqlite://.
func Open(dsn string) (*SQLStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return newStore("pgx", dsn, dialectPostgres)
	}
	return newStore("sqlite", sqlitePath(dsn), dialectSQLite)
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "sqlite://")
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func newStore(driver, dsn string, d dialect) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open quota db: %w", err)
	}
	if d == dialectSQLite {
		// One writer at a time; keeps transactions from tripping SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	schema := createSQLiteTable
	if d == dialectPostgres {
		schema = createPostgresTable
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate quota db: %w", err)
	}

	return &SQLStore{db: db, dialect: d}, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns the record for key.
func (s *SQLStore) Get(ctx context.Context, key string) (models.QuotaRecord, bool, error) {
	rec, err := s.get(ctx, s.db, key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QuotaRecord{}, false, nil
	}
	if err != nil {
		return models.QuotaRecord{}, false, err
	}
	return rec, true, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, q queryRower, key string) (models.QuotaRecord, error) {
	var rec models.QuotaRecord
	err := q.QueryRowContext(ctx,
		s.rebind(`SELECT identity_key, query_count, window_date, updated_at FROM user_queries WHERE identity_key = ?`),
		key,
	).Scan(&rec.IdentityKey, &rec.Count, &rec.WindowDate, &rec.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("get quota record: %w", err)
	}
	return rec, err
}

// Increment counts one request for key on day inside a transaction.
func (s *SQLStore) Increment(ctx context.Context, key, day string, limit int) (models.QuotaRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.QuotaRecord{}, fmt.Errorf("begin quota tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.rebind(incrementSQL), key, day, time.Now().UTC(), limit)
	if err != nil {
		return models.QuotaRecord{}, fmt.Errorf("increment quota: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.QuotaRecord{}, fmt.Errorf("increment quota: %w", err)
	}
	if n == 0 {
		return models.QuotaRecord{}, ErrLimitReached
	}

	rec, err := s.get(ctx, tx, key)
	if err != nil {
		return models.QuotaRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.QuotaRecord{}, fmt.Errorf("commit quota tx: %w", err)
	}
	return rec, nil
}

// Reset deletes the record for key.
func (s *SQLStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM user_queries WHERE identity_key = ?`), key)
	if err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	return nil
}

// List returns all records, most recently updated first.
func (s *SQLStore) List(ctx context.Context) ([]models.QuotaRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity_key, query_count, window_date, updated_at FROM user_queries ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list quota records: %w", err)
	}
	defer rows.Close()

	var records []models.QuotaRecord
	for rows.Next() {
		var r models.QuotaRecord
		if err := rows.Scan(&r.IdentityKey, &r.Count, &r.WindowDate, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan quota record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
