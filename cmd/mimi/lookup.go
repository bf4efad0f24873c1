package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/youtube"
)

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url>",
		Short: "Print the video id of a YouTube URL",
		Long: `Print the video id found in a watch, youtu.be or embed URL. A bare
11-character id is accepted as is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoArg(args[0])
			if err != nil {
				return err
			}
			if a.flagJSON {
				return a.printJSON(map[string]string{"videoId": id, "watchUrl": youtube.WatchURL(id, 0)})
			}
			fmt.Fprintln(a.stdout, id)
			return nil
		},
	}
}

func newTitleCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "title <id|url>",
		Short: "Fetch a video's title from its watch page",
		Long: `Fetch a video's title from its watch page. With --save the title
replaces the stored one of a video that has notes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoArg(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), titleTimeout)
			defer cancel()

			var title string
			if save {
				title, err = a.saveTitle(cmd, id)
			} else {
				title, err = a.detector().DetectTitle(ctx, id)
			}
			if err != nil {
				return systemError(err)
			}
			if a.flagJSON {
				return a.printJSON(map[string]string{"videoId": id, "title": title})
			}
			if title == "" {
				fmt.Fprintln(a.stderr, "no title found")
				return nil
			}
			fmt.Fprintln(a.stdout, title)
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store the fetched title")
	return cmd
}

// saveTitle refreshes the stored title of id. A video without notes keeps
// no record, so its title is only reported.
func (a *app) saveTitle(cmd *cobra.Command, id string) (string, error) {
	var title string
	err := a.withStore(func(store *notes.Store) error {
		s, err := a.openVideo(cmd, store, id, 0, true)
		if err != nil {
			return err
		}
		defer s.Unmount()

		if title, err = s.RefreshTitle(cmd.Context()); err != nil {
			return err
		}
		if len(s.Snapshot().Notes) == 0 {
			fmt.Fprintln(a.stderr, "video has no notes; title not saved")
		}
		return nil
	})
	return title, err
}
