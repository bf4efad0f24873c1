package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/httpapi"
	"github.com/mesh-intelligence/mimi/internal/surface"
	"github.com/mesh-intelligence/mimi/pkg/sqlite"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the note store over a local HTTP API",
		Long: `Serve the note store over HTTP until interrupted. With the sqlite
backend, changes written by other processes are picked up and streamed on
/api/events. When analytics is enabled the relay forwards events posted to
/api/analytics along with the bridge's own note events. Browsers may call
the API only from loopback pages and the origins in http_allowed_origins.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.settings.HTTPAddr
			}
			kv, store, err := a.openStore()
			if err != nil {
				return err
			}
			defer kv.Detach()

			relay := analytics.NewRelay(a.settings.Analytics, nil, a.log)
			tracker := analytics.NewTracker(a.settings.Analytics, relay, a.log)
			detector := a.detector()
			tabs := httpapi.NewTabs(store, surface.Options{
				Detector:      detector,
				Tracker:       tracker,
				Log:           a.log,
				PanelThrottle: a.settings.PanelThrottle,
			})
			// Hide overlays before the store detaches so pending position
			// writes land.
			defer tabs.Close()

			srv := &http.Server{
				Handler: httpapi.NewRouter(httpapi.Deps{
					Store:          store,
					Relay:          relay,
					Tracker:        tracker,
					Tabs:           tabs,
					Detector:       detector,
					Log:            a.log,
					AllowedOrigins: a.settings.HTTPAllowedOrigins,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return systemError(fmt.Errorf("listen %s: %w", addr, err))
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			var wait func() error
			if backend, ok := kv.(sqlite.Backend); ok {
				wait, err = backend.StartWatch(ctx, a.log)
				switch {
				case errors.Is(err, types.ErrWatchUnsupported):
					a.log.Info("not following external writers", slog.String("sync_strategy", a.settings.SyncStrategy))
				case err != nil:
					_ = ln.Close()
					return systemError(err)
				}
			}

			g.Go(func() error {
				if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
					return systemError(err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			g.Go(func() error { return relay.Run(ctx) })
			if wait != nil {
				g.Go(wait)
			}
			if a.settings.Analytics.Enabled {
				g.Go(func() error {
					a.trackLifecycle(ctx, relay)
					return nil
				})
			}

			a.log.Info("serving", slog.String("addr", ln.Addr().String()), slog.String("data_dir", a.dirs.Data))
			fmt.Fprintf(a.stdout, "listening on http://%s\n", ln.Addr())
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config http_addr)")
	return cmd
}

// trackLifecycle reports install, update and startup once the relay runs,
// then records the running version.
func (a *app) trackLifecycle(ctx context.Context, relay *analytics.Relay) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !relay.Running() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	relay.TrackLifecycle(ctx, readLastVersion(a.dirs), version)
	if err := writeLastVersion(a.dirs, version); err != nil {
		a.log.Warn("recording version failed", slog.String("error", err.Error()))
	}
}
