package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/vango-dev/resume/pkg/inspect"
)

func inspectCmd() *cobra.Command {
	var (
		anchor  string
		asJSON  bool
		entries bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Summarize a snapshot",
		Long: `Summarize the object graph of a snapshot.

The input may be a JSON or CBOR snapshot, or an HTML document with
an embedded snapshot script. Use "-" to read from stdin.

Examples:
  resume inspect state.json
  resume inspect page.html --anchor=app
  resume inspect state.cbor --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0], anchor)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if entries {
				data, err := snap.MarshalIndent()
				if err != nil {
					return err
				}
				_, err = out.Write(append(data, '\n'))
				return err
			}

			summary, err := inspect.Summarize(snap)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			return summary.WriteText(out)
		},
	}

	cmd.Flags().StringVarP(&anchor, "anchor", "a", "", "Container anchor to read from an HTML document")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	cmd.Flags().BoolVar(&entries, "entries", false, "Print the raw snapshot entries, indented")

	return cmd
}
