package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newSQLiteStore(t *testing.T, clock *fakeClock) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQLStore(db,
		WithSQLDialect(DialectSQLite),
		WithSQLTableName("snaps"),
		WithSQLCleanupInterval(24*time.Hour),
		WithSQLClock(clock.now),
	)
	t.Cleanup(func() { _ = s.Close() })

	if err := s.CreateTable(context.Background()); err != nil {
		t.Fatalf("CreateTable() error: %v", err)
	}
	return s
}

func TestSQLStore_SaveLoad(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newSQLiteStore(t, clock)
	ctx := context.Background()

	if err := s.Save(ctx, "a", []byte("one"), time.Time{}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := s.Save(ctx, "a", []byte("two"), time.Time{}); err != nil {
		t.Fatalf("Save() overwrite error: %v", err)
	}
	data, err := s.Load(ctx, "a")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("Load() = %q, want two", data)
	}

	data, err = s.Load(ctx, "missing")
	if err != nil || data != nil {
		t.Fatalf("Load(missing) = %q, %v", data, err)
	}
}

func TestSQLStore_ExpiryAndTouch(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newSQLiteStore(t, clock)
	ctx := context.Background()

	_ = s.Save(ctx, "short", []byte("a"), clock.t.Add(time.Minute))
	_ = s.Save(ctx, "touched", []byte("b"), clock.t.Add(time.Minute))
	if err := s.Touch(ctx, "touched", clock.t.Add(time.Hour)); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}

	clock.t = clock.t.Add(5 * time.Minute)
	if data, _ := s.Load(ctx, "short"); data != nil {
		t.Fatalf("expired snapshot loaded: %q", data)
	}
	if data, _ := s.Load(ctx, "touched"); string(data) != "b" {
		t.Fatalf("Load(touched) = %q", data)
	}

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "touched" {
		t.Fatalf("List() = %v", ids)
	}

	s.cleanup()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snaps`).Scan(&n); err != nil {
		t.Fatalf("count error: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows after cleanup = %d, want 1", n)
	}
}

func TestSQLStore_SaveAllDelete(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newSQLiteStore(t, clock)
	ctx := context.Background()

	if err := s.SaveAll(ctx, map[string]Record{
		"a": {Data: []byte("1")},
		"b": {Data: []byte("2")},
		"c": {Data: []byte("3")},
	}); err != nil {
		t.Fatalf("SaveAll() error: %v", err)
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	ids, _ := s.List(ctx)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("List() = %v", ids)
	}

	_ = s.Close()
	if err := s.Save(ctx, "d", nil, time.Time{}); err == nil {
		t.Fatal("Save() after Close succeeded")
	}
}

func TestSQLStore_Placeholders(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgreSQL}
	if got := pg.placeholder(2); got != "$2" {
		t.Errorf("postgres placeholder = %q", got)
	}
	my := &SQLStore{dialect: DialectMySQL}
	if got := my.placeholder(2); got != "?" {
		t.Errorf("mysql placeholder = %q", got)
	}
}
