package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// SQLStore is a SQL-backed snapshot store.
// It works with any database/sql compatible driver (PostgreSQL, MySQL, SQLite).
// Requires a table with schema:
//
//	CREATE TABLE resume_snapshots (
//	    id VARCHAR(128) PRIMARY KEY,
//	    data BYTEA NOT NULL,
//	    expires_at BIGINT NOT NULL,
//	    updated_at BIGINT NOT NULL
//	);
//	CREATE INDEX idx_resume_snapshots_expires ON resume_snapshots(expires_at);
//
// Times are stored as Unix nanoseconds; expires_at 0 never expires.
type SQLStore struct {
	db              *sql.DB
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
	now             func() time.Time
	closed          atomic.Bool
	done            chan struct{}
}

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL SQLDialect = iota
	// DialectMySQL uses MySQL syntax (? placeholders).
	DialectMySQL
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite
)

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
	now             func() time.Time
}

// WithSQLTableName sets the table name.
// Default: "resume_snapshots".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectPostgreSQL.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = dialect
	}
}

// WithSQLCleanupInterval sets how often expired snapshots are removed.
// Default: 5 minutes.
func WithSQLCleanupInterval(d time.Duration) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.cleanupInterval = d
	}
}

// WithSQLClock sets the time source used for expiry checks.
func WithSQLClock(now func() time.Time) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.now = now
	}
}

// NewSQLStore creates a new SQL-backed snapshot store.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	cfg := &sqlStoreConfig{
		tableName:       "resume_snapshots",
		dialect:         DialectPostgreSQL,
		cleanupInterval: 5 * time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := &SQLStore{
		db:              db,
		tableName:       cfg.tableName,
		dialect:         cfg.dialect,
		cleanupInterval: cfg.cleanupInterval,
		now:             cfg.now,
		done:            make(chan struct{}),
	}

	go store.cleanupLoop()
	return store
}

// placeholder returns the placeholder syntax for the dialect.
func (s *SQLStore) placeholder(n int) string {
	switch s.dialect {
	case DialectPostgreSQL:
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

func (s *SQLStore) upsertQuery() string {
	switch s.dialect {
	case DialectMySQL:
		return fmt.Sprintf(`
			INSERT INTO %s (id, data, expires_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				data = VALUES(data),
				expires_at = VALUES(expires_at),
				updated_at = VALUES(updated_at)
		`, s.tableName)
	case DialectSQLite:
		return fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (id, data, expires_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, s.tableName)
	default:
		return fmt.Sprintf(`
			INSERT INTO %s (id, data, expires_at, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				data = EXCLUDED.data,
				expires_at = EXCLUDED.expires_at,
				updated_at = EXCLUDED.updated_at
		`, s.tableName)
	}
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// Save stores data with an expiration time.
func (s *SQLStore) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed{}
	}

	_, err := s.db.ExecContext(ctx, s.upsertQuery(), id, data, unixNanos(expiresAt), s.now().UnixNano())
	return err
}

// Load retrieves data if it exists and hasn't expired.
func (s *SQLStore) Load(ctx context.Context, id string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed{}
	}

	query := fmt.Sprintf(`
		SELECT data FROM %s
		WHERE id = %s AND (expires_at = 0 OR expires_at > %s)
	`, s.tableName, s.placeholder(1), s.placeholder(2))

	var data []byte
	err := s.db.QueryRowContext(ctx, query, id, s.now().UnixNano()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return data, nil
}

// Delete removes a snapshot from the database.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed{}
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// Touch updates the expiration time for a snapshot.
func (s *SQLStore) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed{}
	}

	query := fmt.Sprintf(`
		UPDATE %s SET expires_at = %s, updated_at = %s
		WHERE id = %s
	`, s.tableName, s.placeholder(1), s.placeholder(2), s.placeholder(3))

	_, err := s.db.ExecContext(ctx, query, unixNanos(expiresAt), s.now().UnixNano(), id)
	return err
}

// SaveAll saves several snapshots in one transaction.
func (s *SQLStore) SaveAll(ctx context.Context, records map[string]Record) error {
	if s.closed.Load() {
		return ErrStoreClosed{}
	}

	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery())
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now().UnixNano()
	for id, r := range records {
		if _, err := stmt.ExecContext(ctx, id, r.Data, unixNanos(r.ExpiresAt), now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// List returns the ids of live snapshots, sorted.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed{}
	}

	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE expires_at = 0 OR expires_at > %s
		ORDER BY id
	`, s.tableName, s.placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, s.now().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close stops the cleanup loop.
// The underlying database connection is not closed, as it may be shared
// with other components.
func (s *SQLStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	return nil
}

func (s *SQLStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

// cleanup removes expired snapshots from the database.
func (s *SQLStore) cleanup() {
	if s.closed.Load() {
		return
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <> 0 AND expires_at < %s`,
		s.tableName, s.placeholder(1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, _ = s.db.ExecContext(ctx, query, s.now().UnixNano())
}

// CreateTable creates the snapshot table if it doesn't exist.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectMySQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(128) PRIMARY KEY,
				data LONGBLOB NOT NULL,
				expires_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				expires_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)
		`, s.tableName)
	default:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(128) PRIMARY KEY,
				data BYTEA NOT NULL,
				expires_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)
		`, s.tableName)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return err
	}

	indexQuery := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)`,
		s.tableName, s.tableName)
	if s.dialect == DialectMySQL {
		// MySQL has no IF NOT EXISTS for indexes; a duplicate is ignored.
		indexQuery = fmt.Sprintf(`CREATE INDEX idx_%s_expires ON %s(expires_at)`, s.tableName, s.tableName)
		_, _ = s.db.ExecContext(ctx, indexQuery)
		return nil
	}
	_, err := s.db.ExecContext(ctx, indexQuery)
	return err
}
