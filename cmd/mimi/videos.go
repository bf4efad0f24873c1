package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/youtube"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

func newVideosCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "videos",
		Short: "List videos with notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *notes.Store) error {
				recs, err := store.LoadVisible(cmd.Context())
				if err != nil {
					return systemError(err)
				}
				list := notes.Summaries(recs)
				if a.flagJSON {
					return a.printJSON(list)
				}
				printSummaries(a.stdout, list)
				return nil
			})
		},
	}
}

// videoJSON is the --json shape of a single video.
type videoJSON struct {
	VideoID  string       `json:"videoId"`
	Title    string       `json:"title"`
	WatchURL string       `json:"watchUrl"`
	Notes    []types.Note `json:"notes"`
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|url>",
		Short: "Show the notes of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoArg(args[0])
			if err != nil {
				return err
			}
			return a.withStore(func(store *notes.Store) error {
				rec, err := store.LoadVideo(cmd.Context(), id)
				if err != nil {
					return systemError(err)
				}
				if !rec.HasNotes() {
					return fmt.Errorf("%w: %s", notes.ErrVideoNotFound, id)
				}
				if a.flagJSON {
					return a.printJSON(videoJSON{VideoID: id, Title: rec.Title, WatchURL: youtube.WatchURL(id, 0), Notes: rec.Notes})
				}
				printRecord(a.stdout, id, rec)
				return nil
			})
		},
	}
}
