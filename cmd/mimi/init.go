package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mimi/internal/notes"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and data directories",
		Long:  "Create the configuration directory with a default config.yaml and initialize the note store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.dirs.Ensure(); err != nil {
				return systemError(err)
			}
			var count int
			err := a.withStore(func(store *notes.Store) error {
				recs, err := store.LoadVisible(cmd.Context())
				count = len(recs)
				return systemError(err)
			})
			if err != nil {
				return err
			}

			if a.flagJSON {
				return a.printJSON(map[string]any{
					"config":  a.dirs.Config,
					"data":    a.dirs.Data,
					"backend": a.settings.Backend,
					"videos":  count,
				})
			}
			fmt.Fprintln(a.stdout, "mimi initialized")
			fmt.Fprintln(a.stdout, "  config: ", a.dirs.Config)
			fmt.Fprintln(a.stdout, "  data:   ", a.dirs.Data)
			fmt.Fprintln(a.stdout, "  backend:", a.settings.Backend)
			fmt.Fprintln(a.stdout, "  videos: ", count)
			return nil
		},
	}
}
