// Package store persists snapshots between processes.
//
// A Store holds opaque encoded snapshots keyed by id, each with an optional
// expiry. Three backends are provided:
//
//   - MemoryStore for single-process use and tests
//   - SQLStore for any database/sql driver (PostgreSQL, MySQL, SQLite)
//   - S3Store for object storage through the AWS SDK
//
// Put and Get encode and decode snapshots on top of any backend, in either
// the persisted JSON text form or canonical CBOR. Open builds a backend from
// a DSN such as "memory:", "sqlite:/var/lib/resume.db", or
// "s3://bucket/prefix".
package store
