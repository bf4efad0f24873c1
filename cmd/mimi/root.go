package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/logger"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/paths"
	"github.com/mesh-intelligence/mimi/internal/surface"
	"github.com/mesh-intelligence/mimi/internal/youtube"
	"github.com/mesh-intelligence/mimi/pkg/sqlite"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// titleTimeout bounds a watch page fetch.
const titleTimeout = 10 * time.Second

// app holds global flags and the state prepared before a subcommand runs.
type app struct {
	stdout io.Writer
	stderr io.Writer

	flagConfigDir string
	flagDataDir   string
	flagJSON      bool

	dirs     paths.Dirs
	settings Settings
	log      *slog.Logger
	client   *http.Client
	tracker  *analytics.Tracker

	// mounted lists the surfaces whose analytics events are drained
	// before the store detaches.
	mounted []interface{ Drain() }
}

// newRootCmd builds the command tree. Each call returns an independent
// tree, so tests can run commands side by side.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, client: &http.Client{Timeout: titleTimeout}}

	root := &cobra.Command{
		Use:     "mimi",
		Short:   "Timestamped notes on YouTube videos",
		Version: version,
		Long: `mimi keeps short notes pinned to playback positions of YouTube videos.
It shares its note store with the browser popup and overlay panel, exports
notes as PDF or JSON, and can serve the store over a local HTTP API.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.prepare,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.flagConfigDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.flagDataDir, "data-dir", "", "data directory (default: platform data dir)")
	root.PersistentFlags().BoolVar(&a.flagJSON, "json", false, "output as JSON")

	root.AddCommand(
		newVersionCmd(a),
		newInitCmd(a),
		newResolveCmd(a),
		newTitleCmd(a),
		newVideosCmd(a),
		newShowCmd(a),
		newAddCmd(a),
		newRmCmd(a),
		newDropCmd(a),
		newExportCmd(a),
		newPanelCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
	)
	return root
}

// prepare resolves directories, loads the configuration and builds the
// logger. version and resolve need none of it.
func (a *app) prepare(cmd *cobra.Command, _ []string) error {
	switch cmd.Name() {
	case "version", "resolve", "help":
		a.log = logger.Discard()
		return nil
	}

	configDir, err := paths.ResolveConfigDir(a.flagConfigDir)
	if err != nil {
		return systemError(fmt.Errorf("resolve config dir: %w", err))
	}
	a.settings, err = loadSettings(configDir)
	if err != nil {
		return err
	}
	dataDir, err := paths.ResolveDataDir(a.flagDataDir, a.settings.DataDir)
	if err != nil {
		return systemError(fmt.Errorf("resolve data dir: %w", err))
	}
	a.dirs = paths.Dirs{Config: configDir, Data: dataDir}
	a.log = logger.NewWithWriter(a.stderr, a.settings.Env, a.settings.LogLevel)
	a.tracker = a.trackerFor()
	return nil
}

// openStore attaches the configured backend. The caller must Detach kv.
func (a *app) openStore() (kv types.Store, store *notes.Store, err error) {
	cfg := a.settings.storeConfig(a.dirs.Data)
	kv, err = sqlite.Open(cfg)
	if err != nil {
		return nil, nil, systemError(fmt.Errorf("open store: %w", err))
	}
	return kv, notes.NewStore(kv, cfg.GetArea()), nil
}

// detector returns the watch page title detector.
func (a *app) detector() *youtube.PageDetector {
	return youtube.NewPageDetector(a.client, a.settings.TitleBaseURL, a.settings.TitleUserAgent)
}

// surfaceOptions returns options for surfaces driven from the CLI.
func (a *app) surfaceOptions(name string, detect bool) surface.Options {
	opts := surface.Options{
		Name:          name,
		Log:           a.log,
		PanelThrottle: a.settings.PanelThrottle,
		Tracker:       a.tracker,
	}
	if detect {
		opts.Detector = a.detector()
	}
	return opts
}

// withStore runs fn against an attached store and detaches it afterwards.
func (a *app) withStore(fn func(store *notes.Store) error) error {
	kv, store, err := a.openStore()
	if err != nil {
		return err
	}
	runErr := fn(store)
	for _, s := range a.mounted {
		s.Drain()
	}
	a.mounted = nil
	if err := kv.Detach(); err != nil && runErr == nil {
		return systemError(fmt.Errorf("close store: %w", err))
	}
	return runErr
}

// mountable is a surface the CLI drives.
type mountable interface {
	Mount(ctx context.Context) error
	Drain()
}

// mount mounts s and marks a failure as a system error.
func (a *app) mount(ctx context.Context, s mountable) error {
	if err := s.Mount(ctx); err != nil {
		return systemError(err)
	}
	a.mounted = append(a.mounted, s)
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// videoArg resolves a bare id or a URL into a video id.
func videoArg(arg string) (string, error) {
	id, ok := youtube.ResolveVideoID(arg)
	if !ok {
		return "", fmt.Errorf("%w in %q", errNoVideo, arg)
	}
	return id, nil
}
