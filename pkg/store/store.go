package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	rerrors "github.com/vango-dev/resume/internal/errors"
	"github.com/vango-dev/resume/pkg/snapshot"
)

// Store defines the interface for snapshot persistence backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists encoded snapshot data under id, overwriting any
	// previous value. A zero expiresAt never expires.
	Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error

	// Load retrieves data by id.
	// Returns (nil, nil) if the id doesn't exist or has expired.
	Load(ctx context.Context, id string) ([]byte, error)

	// Delete removes a snapshot. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Touch updates the expiration time without rewriting the data.
	// Touching a missing id is not an error.
	Touch(ctx context.Context, id string, expiresAt time.Time) error

	// SaveAll persists several snapshots, atomically where the backend
	// allows it.
	SaveAll(ctx context.Context, records map[string]Record) error

	// List returns the ids of snapshots that have not expired, sorted.
	List(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Record is encoded snapshot data with its expiry.
type Record struct {
	Data      []byte
	ExpiresAt time.Time
}

// NotFoundError is returned by Get when no snapshot is stored under ID.
// Load returns (nil, nil) for missing ids instead.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return "snapshot not found: " + e.ID
}

// Diagnostic returns the coded form of the error.
func (e NotFoundError) Diagnostic() *rerrors.Error {
	return rerrors.New("R400").WithPath(e.ID)
}

// ErrStoreClosed is returned when operations are attempted on a closed store.
type ErrStoreClosed struct{}

func (e ErrStoreClosed) Error() string {
	return "snapshot store is closed"
}

// Diagnostic returns the coded form of the error.
func (e ErrStoreClosed) Diagnostic() *rerrors.Error {
	return rerrors.New("R401")
}

// Format selects the encoding used by Put.
type Format int

const (
	// FormatJSON stores the persisted text form.
	FormatJSON Format = iota
	// FormatCBOR stores canonical CBOR.
	FormatCBOR
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses "json" or "cbor".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	}
	return FormatJSON, fmt.Errorf("store: unknown format %q", s)
}

// Encode encodes a snapshot in the given format.
func Encode(snap *snapshot.Snapshot, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return snap.Marshal()
	case FormatCBOR:
		return snap.MarshalCBOR()
	}
	return nil, fmt.Errorf("store: unknown format %v", f)
}

// Decode decodes snapshot data written in either format. JSON data starts
// with '{' after optional whitespace; anything else is read as CBOR.
func Decode(data []byte) (*snapshot.Snapshot, error) {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		return snapshot.Parse(data)
	}
	return snapshot.UnmarshalCBOR(data)
}

// Put encodes snap and saves it under id. A zero ttl never expires.
func Put(ctx context.Context, s Store, id string, snap *snapshot.Snapshot, f Format, ttl time.Duration) error {
	data, err := Encode(snap, f)
	if err != nil {
		return err
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	return s.Save(ctx, id, data, expiresAt)
}

// Get loads and decodes the snapshot stored under id.
func Get(ctx context.Context, s Store, id string) (*snapshot.Snapshot, error) {
	data, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, NotFoundError{ID: id}
	}
	return Decode(data)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}
