package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/surface"
	"github.com/mesh-intelligence/mimi/internal/youtube"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

var errPoint = errors.New(`position must be "x,y"`)

func newPanelCmd(a *app) *cobra.Command {
	var (
		move       string
		clearNotes bool
	)
	cmd := &cobra.Command{
		Use:   "panel <id|url>",
		Short: "Show or move the overlay panel position for a video",
		Long: `Show the overlay panel position for a video. --move drags the panel
to x,y; --clear removes every note of the video as the panel's clear
button does.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoArg(args[0])
			if err != nil {
				return err
			}
			var target *types.Position
			if move != "" {
				x, y, err := parsePoint(move)
				if err != nil {
					return err
				}
				target = &types.Position{X: x, Y: y}
			}

			return a.withStore(func(store *notes.Store) error {
				tab := surface.NewStaticTab(0, youtube.WatchURL(id, 0), 0)
				o := surface.NewOverlay(store, tab, a.surfaceOptions("cli", false))
				if err := a.mount(cmd.Context(), o); err != nil {
					return err
				}
				if target != nil {
					o.Drag(target.X, target.Y)
				}
				var clearErr error
				if clearNotes {
					clearErr = o.ClearAll(cmd.Context())
				}
				// Unmount flushes a pending position write.
				o.Unmount()
				if clearErr != nil {
					return systemError(clearErr)
				}
				if clearNotes && !a.flagJSON {
					fmt.Fprintf(a.stdout, "cleared notes of %s\n", id)
				}

				pos := o.Position()
				if a.flagJSON {
					return a.printJSON(pos)
				}
				fmt.Fprintf(a.stdout, "%s panel at %g,%g\n", id, pos.X, pos.Y)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&move, "move", "", "new position as x,y")
	cmd.Flags().BoolVar(&clearNotes, "clear", false, "delete every note of the video")
	return cmd
}

// parsePoint parses "x,y".
func parsePoint(s string) (x, y float64, err error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", errPoint, s)
	}
	if x, err = strconv.ParseFloat(strings.TrimSpace(xs), 64); err != nil {
		return 0, 0, fmt.Errorf("%w: %q", errPoint, s)
	}
	if y, err = strconv.ParseFloat(strings.TrimSpace(ys), 64); err != nil {
		return 0, 0, fmt.Errorf("%w: %q", errPoint, s)
	}
	return x, y, nil
}
