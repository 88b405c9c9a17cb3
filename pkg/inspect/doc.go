// Package inspect serves stored snapshots over HTTP for debugging.
//
// NewHandler mounts a chi router over a store.Store with endpoints for
// listing, fetching, summarizing, uploading, and deleting snapshots, plus
// Prometheus metrics. Summarize reads a snapshot's entry table without
// decoding values, so it works on snapshots whose symbols or custom codecs
// are not available in the inspecting process.
package inspect
