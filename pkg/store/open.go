package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	// SQLite driver for "sqlite:" DSNs.
	_ "modernc.org/sqlite"
)

// Open creates a store from a DSN:
//
//	memory:                          in-process MemoryStore
//	sqlite:<path>                    SQLStore over a SQLite file (":memory:" works)
//	s3://<bucket>/<prefix>?region=R  S3Store; endpoint=URL selects an S3-compatible service
//
// Stores returned by Open own their resources and release them on Close.
func Open(ctx context.Context, dsn string) (Store, error) {
	scheme, rest, ok := strings.Cut(dsn, ":")
	if !ok {
		return nil, fmt.Errorf("store: invalid DSN %q", dsn)
	}

	switch scheme {
	case "memory":
		return NewMemoryStore(), nil

	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("store: sqlite DSN needs a path")
		}
		db, err := sql.Open("sqlite", rest)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		if rest == ":memory:" {
			// Each connection to :memory: is a separate database.
			db.SetMaxOpenConns(1)
		}
		s := NewSQLStore(db, WithSQLDialect(DialectSQLite))
		if err := s.CreateTable(ctx); err != nil {
			s.Close()
			db.Close()
			return nil, fmt.Errorf("store: create table: %w", err)
		}
		return &ownedSQLStore{SQLStore: s, db: db}, nil

	case "s3":
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("store: invalid DSN %q: %w", dsn, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("store: s3 DSN needs a bucket")
		}
		q := u.Query()
		region := q.Get("region")
		if region == "" {
			region = "us-east-1"
		}
		prefix := strings.TrimPrefix(u.Path, "/")
		return NewS3Store(NewS3Client(region, q.Get("endpoint")), u.Host, prefix), nil
	}

	return nil, fmt.Errorf("store: unsupported scheme %q", scheme)
}

type ownedSQLStore struct {
	*SQLStore
	db *sql.DB
}

func (s *ownedSQLStore) Close() error {
	if err := s.SQLStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
