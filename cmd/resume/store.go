package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/resume/internal/config"
	"github.com/vango-dev/resume/pkg/store"
)

func storeCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage stored snapshots",
		Long: `Put, get, remove, and list snapshots in a snapshot store.

The store is selected by store.dsn in the configuration or --dsn:
  memory:                        process memory
  sqlite:<path>                  SQLite database file
  s3://<bucket>/<prefix>?region= S3 or an S3-compatible service

Examples:
  resume store put cart-42 state.json --dsn=sqlite:snapshots.db
  resume store get cart-42 --format=cbor > cart.cbor
  resume store ls`,
	}

	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Store DSN (default from configuration)")

	open := func(ctx context.Context) (store.Store, *config.Config, error) {
		cfg := configFrom(ctx)
		if dsn != "" {
			cfg.Store.DSN = dsn
		}
		st, err := store.Open(ctx, cfg.Store.DSN)
		return st, cfg, err
	}

	cmd.AddCommand(
		storePutCmd(open),
		storeGetCmd(open),
		storeRmCmd(open),
		storeLsCmd(open),
	)
	return cmd
}

type storeOpener func(ctx context.Context) (store.Store, *config.Config, error)

func storePutCmd(open storeOpener) *cobra.Command {
	var anchor string

	cmd := &cobra.Command{
		Use:   "put <id> <file>",
		Short: "Store a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[1], anchor)
			if err != nil {
				return err
			}
			st, cfg, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			format, err := store.ParseFormat(cfg.Snapshot.Format)
			if err != nil {
				return err
			}
			ttl, err := cfg.TTL()
			if err != nil {
				return err
			}
			if err := store.Put(cmd.Context(), st, args[0], snap, format, ttl); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Stored %s (%d entries, %s)", args[0], snap.Len(), format)
			return nil
		},
	}

	cmd.Flags().StringVarP(&anchor, "anchor", "a", "", "Container anchor to read from an HTML document")
	return cmd
}

func storeGetCmd(open storeOpener) *cobra.Command {
	var (
		format string
		indent bool
	)

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := store.Get(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}
			return writeConverted(cmd.OutOrStdout(), snap, format, "", "", indent)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, cbor, or html")
	cmd.Flags().BoolVar(&indent, "indent", false, "Indent JSON output")
	return cmd
}

func storeRmCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Remove stored snapshots",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			for _, id := range args {
				if err := st.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
			}
			success(cmd.OutOrStdout(), "Removed %d snapshot(s)", len(args))
			return nil
		},
	}
}

func storeLsCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored snapshot ids",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			ids, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				warn(cmd.ErrOrStderr(), "No snapshots stored")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
