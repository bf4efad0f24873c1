package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/pkg/sqlite"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// changeLine is the --json shape of one change.
type changeLine struct {
	Time    string `json:"time"`
	VideoID string `json:"videoId"`
	Deleted bool   `json:"deleted"`
	Notes   int    `json:"notes"`
	Title   string `json:"title,omitempty"`
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print note changes made by any writer until interrupted",
		Long: `Follow the note store and print every change, including writes by
other processes such as the browser bridge. Requires the sqlite backend with
the immediate sync strategy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, store, err := a.openStore()
			if err != nil {
				return err
			}
			defer kv.Detach()

			backend, ok := kv.(sqlite.Backend)
			if !ok {
				return fmt.Errorf("%w: backend %q cannot be watched", types.ErrWatchUnsupported, a.settings.Backend)
			}
			ctx := cmd.Context()
			wait, err := backend.StartWatch(ctx, a.log)
			if err != nil {
				return err
			}

			stop := store.Subscribe(func(changes []notes.VideoChange) {
				for _, c := range changes {
					a.printChange(c)
				}
			})
			defer stop()

			if !a.flagJSON {
				fmt.Fprintf(a.stdout, "watching %s\n", backend.DataDir())
			}
			return wait()
		},
	}
}

func (a *app) printChange(c notes.VideoChange) {
	line := changeLine{Time: time.Now().Format(time.RFC3339), VideoID: c.VideoID, Deleted: c.Deleted()}
	if c.Record != nil {
		line.Notes = len(c.Record.Notes)
		line.Title = c.Record.Title
	}
	if a.flagJSON {
		_ = a.printJSON(line)
		return
	}
	if line.Deleted {
		fmt.Fprintf(a.stdout, "%s  %s deleted\n", dimColor.Sprint(line.Time), idColor.Sprint(c.VideoID))
		return
	}
	fmt.Fprintf(a.stdout, "%s  %s %s (%d notes)\n",
		dimColor.Sprint(line.Time), idColor.Sprint(c.VideoID), line.Title, line.Notes)
}
