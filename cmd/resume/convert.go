package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/resume/pkg/document"
	"github.com/vango-dev/resume/pkg/snapshot"
	"github.com/vango-dev/resume/pkg/store"
)

func convertCmd() *cobra.Command {
	var (
		format string
		anchor string
		into   string
		indent bool
	)

	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a snapshot between JSON, CBOR, and HTML",
		Long: `Convert a snapshot between encodings.

The output format is taken from --format, or from the extension of
<out> (.json, .cbor, .html). HTML output is a single script element,
or, with --into, a copy of an existing page with the snapshot embedded.
Use "-" for stdin or stdout.

Examples:
  resume convert state.json state.cbor
  resume convert page.html state.json --anchor=app
  resume convert state.json page.html --into=index.html`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0], anchor)
			if err != nil {
				return err
			}
			if format == "" {
				format = formatFromPath(args[1])
			}

			var buf bytes.Buffer
			if err := writeConverted(&buf, snap, format, anchor, into, indent); err != nil {
				return err
			}
			if args[1] == "-" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			return os.WriteFile(args[1], buf.Bytes(), 0644)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: json, cbor, or html")
	cmd.Flags().StringVarP(&anchor, "anchor", "a", "", "Container anchor for HTML input and output")
	cmd.Flags().StringVar(&into, "into", "", "HTML page to embed the snapshot into")
	cmd.Flags().BoolVar(&indent, "indent", false, "Indent JSON output")

	return cmd
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor":
		return "cbor"
	case ".html", ".htm":
		return "html"
	default:
		return "json"
	}
}

func writeConverted(w io.Writer, snap *snapshot.Snapshot, format, anchor, into string, indent bool) error {
	switch format {
	case "html":
		if into == "" {
			return document.Write(w, anchor, snap)
		}
		page, err := os.Open(into)
		if err != nil {
			return err
		}
		defer page.Close()
		return document.Embed(w, page, anchor, snap)

	case "json":
		if indent {
			data, err := snap.MarshalIndent()
			if err != nil {
				return err
			}
			_, err = w.Write(append(data, '\n'))
			return err
		}
		fallthrough

	default:
		f, err := store.ParseFormat(format)
		if err != nil {
			return fmt.Errorf("unknown output format %q", format)
		}
		data, err := store.Encode(snap, f)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
}
