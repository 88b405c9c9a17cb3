package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/resume/internal/config"
	"github.com/vango-dev/resume/pkg/qrl"
	"github.com/vango-dev/resume/pkg/qrl/jsmodule"
	"github.com/vango-dev/resume/pkg/reactive"
	"github.com/vango-dev/resume/pkg/snapshot"
)

func validateCmd() *cobra.Command {
	var (
		anchor  string
		symbols bool
	)

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a snapshot resumes",
		Long: `Resume a snapshot and decode every entry.

With --symbols, each lazy symbol is also loaded from the modules
directory (modules.dir in the configuration), so missing modules
and exports are reported before the snapshot reaches a client.

Examples:
  resume validate state.json
  resume validate page.html --symbols`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd.Context())
			snap, err := readSnapshot(args[0], anchor)
			if err != nil {
				return err
			}
			report, err := runValidate(cmd.Context(), cfg, snap, symbols)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "%d entries decoded, %d symbols loaded, %d deferred",
				report.entries, report.symbols, report.deferred)
			return nil
		},
	}

	cmd.Flags().StringVarP(&anchor, "anchor", "a", "", "Container anchor to read from an HTML document")
	cmd.Flags().BoolVar(&symbols, "symbols", false, "Load every lazy symbol from the modules directory")

	return cmd
}

type validateReport struct {
	entries  int
	symbols  int
	deferred int
}

func runValidate(ctx context.Context, cfg *config.Config, snap *snapshot.Snapshot, loadSymbols bool) (validateReport, error) {
	var report validateReport
	logger := slog.Default().With("component", "validate")

	resolver := qrl.NewResolver(jsmodule.New(os.DirFS(cfg.ModulesPath())), qrl.WithResolverLogger(logger))
	opts := decodeOptions(cfg, snapshot.WithLogger(logger), snapshot.WithContainerOptions(
		reactive.WithResolver(resolver),
		reactive.WithLogger(logger),
		reactive.WithContext(ctx),
	))

	c, g, err := snapshot.Resume(snap, opts...)
	if err != nil {
		return report, err
	}
	defer c.Dispose()

	for i := 0; i < snap.Len(); i++ {
		v, err := g.Resolve(i)
		if err != nil {
			return report, err
		}
		report.entries++

		sym, ok := v.(*qrl.Symbol)
		if !ok || !loadSymbols {
			continue
		}
		if _, err := resolver.Resolve(ctx, sym); err != nil {
			return report, fmt.Errorf("entry %d: %w", i, err)
		}
		report.symbols++
	}
	report.deferred = len(g.Deferred())
	return report, nil
}
