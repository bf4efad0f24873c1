package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mimi/internal/export"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/surface"
	"github.com/mesh-intelligence/mimi/internal/youtube"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export <id|url>",
		Short: "Export a video's notes as PDF or JSON",
		Long: `Export a video's notes. The file is named after the video title
(<title>_notes.pdf or <title>_mimi_notes.json) unless --out is given;
--out - writes to standard output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoArg(args[0])
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			return a.withStore(func(store *notes.Store) error {
				tab := surface.NewStaticTab(0, youtube.WatchURL(id, 0), 0)
				p := surface.NewPopup(store, tab, nil, nil, a.surfaceOptions("cli", false))
				if err := a.mount(cmd.Context(), p); err != nil {
					return err
				}
				defer p.Unmount()
				if len(p.Snapshot().Notes) == 0 {
					return fmt.Errorf("%w: %s", notes.ErrVideoNotFound, id)
				}

				var buf bytes.Buffer
				name, err := p.Export(cmd.Context(), f, &buf)
				if err != nil {
					return systemError(err)
				}
				if out == "-" {
					_, err := a.stdout.Write(buf.Bytes())
					return err
				}
				if out == "" {
					out = name
				}
				if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
					return systemError(fmt.Errorf("writing %s: %w", out, err))
				}
				if a.flagJSON {
					return a.printJSON(map[string]any{"file": out, "bytes": buf.Len()})
				}
				fmt.Fprintf(a.stdout, "wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatPDF), "pdf or json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout")
	return cmd
}
