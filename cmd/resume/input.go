package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vango-dev/resume/internal/config"
	"github.com/vango-dev/resume/pkg/document"
	"github.com/vango-dev/resume/pkg/snapshot"
	"github.com/vango-dev/resume/pkg/store"
)

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// configFrom returns the configuration installed by the root command, or
// the defaults when a command runs outside it.
func configFrom(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return config.New()
}

// readSnapshot reads a snapshot from path ("-" for stdin). HTML input is
// searched for the script element of anchor; anything else is JSON or CBOR.
func readSnapshot(path, anchor string) (*snapshot.Snapshot, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	if isHTML(path, data) {
		return document.Read(bytes.NewReader(data), anchor)
	}
	return store.Decode(data)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func isHTML(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("<"))
}

// decodeOptions returns the snapshot options implied by the configuration.
func decodeOptions(cfg *config.Config, extra ...snapshot.Option) []snapshot.Option {
	var opts []snapshot.Option
	if cfg.Snapshot.AllowDeferred {
		opts = append(opts, snapshot.AllowDeferredPromises())
	}
	return append(opts, extra...)
}
