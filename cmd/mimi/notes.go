package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/surface"
	"github.com/mesh-intelligence/mimi/internal/youtube"
)

// openVideo mounts a surface whose tab shows videoID at sec.
func (a *app) openVideo(cmd *cobra.Command, store *notes.Store, videoID string, sec int, detect bool) (*surface.Surface, error) {
	tab := surface.NewStaticTab(0, youtube.WatchURL(videoID, 0), float64(sec))
	s := surface.New(store, tab, a.surfaceOptions("cli", detect))
	if err := a.mount(cmd.Context(), s); err != nil {
		return nil, err
	}
	return s, nil
}

func newAddCmd(a *app) *cobra.Command {
	var (
		at      string
		text    string
		noTitle bool
	)
	cmd := &cobra.Command{
		Use:   "add <id|url>",
		Short: "Add a note to a video",
		Long: `Add a note at a playback position. --at accepts seconds, m:ss or
h:mm:ss; a t= parameter in the URL is used when --at is absent. The first
note of an untitled video fetches the title from its watch page unless
--no-title is set.`,
		Example: `  mimi add https://youtu.be/dQw4w9WgXcQ --at 1:05 --text "chorus"
  mimi add "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s" --text "intro ends"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoArg(args[0])
			if err != nil {
				return err
			}
			sec, err := noteTime(at, args[0])
			if err != nil {
				return err
			}

			return a.withStore(func(store *notes.Store) error {
				s, err := a.openVideo(cmd, store, id, sec, !noTitle)
				if err != nil {
					return err
				}
				defer s.Unmount()

				n, err := s.AddNote(cmd.Context(), text)
				if err != nil {
					return err
				}
				if a.flagJSON {
					return a.printJSON(n)
				}
				snap := s.Snapshot()
				fmt.Fprintf(a.stdout, "added %s to %s (%d notes)\n",
					timeColor.Sprint(notes.FormatTime(n.Time)), titleOr(snap.Title, id), len(snap.Notes))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "playback position (seconds, m:ss or h:mm:ss)")
	cmd.Flags().StringVar(&text, "text", "", "note text")
	cmd.Flags().BoolVar(&noTitle, "no-title", false, "do not fetch the video title")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id|url> <index>",
		Short: "Delete one note by its index in show output",
		Long:  "Delete one note. Deleting the last note of a video removes the video.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoArg(args[0])
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%w: %q", notes.ErrNoteIndex, args[1])
			}

			return a.withStore(func(store *notes.Store) error {
				s, err := a.openVideo(cmd, store, id, 0, false)
				if err != nil {
					return err
				}
				defer s.Unmount()

				if err := s.DeleteNote(cmd.Context(), index); err != nil {
					return err
				}
				left := len(s.Snapshot().Notes)
				if a.flagJSON {
					return a.printJSON(map[string]any{"videoId": id, "remaining": left})
				}
				if left == 0 {
					fmt.Fprintf(a.stdout, "deleted the last note; %s removed\n", id)
					return nil
				}
				fmt.Fprintf(a.stdout, "deleted note %d (%d left)\n", index, left)
				return nil
			})
		},
	}
}

func newDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <id|url>",
		Short: "Delete every note of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoArg(args[0])
			if err != nil {
				return err
			}
			return a.withStore(func(store *notes.Store) error {
				s, err := a.openVideo(cmd, store, id, 0, false)
				if err != nil {
					return err
				}
				defer s.Unmount()

				if len(s.Snapshot().Notes) == 0 {
					return fmt.Errorf("%w: %s", notes.ErrVideoNotFound, id)
				}
				if err := s.DeleteVideo(cmd.Context()); err != nil {
					return systemError(err)
				}
				fmt.Fprintf(a.stdout, "removed %s\n", id)
				return nil
			})
		},
	}
}

// noteTime returns the --at position, falling back to the URL's t=
// parameter and then to zero.
func noteTime(at, rawURL string) (int, error) {
	if at != "" {
		return notes.ParseTime(at)
	}
	if sec, ok := youtube.StartTime(rawURL); ok {
		return sec, nil
	}
	return 0, nil
}

func titleOr(title, id string) string {
	if title == "" {
		return id
	}
	return title
}
