package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/presenter"
	"github.com/jingkaihe/skillsmith/pkg/server"
	"github.com/jingkaihe/skillsmith/pkg/skills"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Addr  string
	Watch bool
}

// validateServeConfig checks that the listen address is host:port.
func validateServeConfig(c ServeConfig) error {
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return errors.Wrapf(err, "invalid listen address %q", c.Addr)
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return errors.Errorf("invalid host: %s", host)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return errors.Errorf("port must be between 0 and 65535, got %s", port)
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the routing API over HTTP",
	Long: `Start an HTTP server that routes queries to skills. The skill index is
reloaded when the skills directory changes unless --watch=false is given.

  POST /api/route                         {"query": "..."}
  GET  /api/skills                        ?match=<glob>
  GET  /api/skills/{name}
  GET  /api/skills/{name}/references/{path}
  POST /api/skills/reload
  GET  /healthz`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sc := ServeConfig{Addr: cfg.Server.Addr, Watch: cfg.Server.Watch}
		if cmd.Flags().Changed("addr") {
			sc.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("watch") {
			sc.Watch, _ = cmd.Flags().GetBool("watch")
		}
		return runServe(cmd.Context(), sc)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from server.addr)")
	serveCmd.Flags().Bool("watch", true, "Reload the skill index when the skills directory changes")
}

func runServe(ctx context.Context, sc ServeConfig) error {
	if err := validateServeConfig(sc); err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(st)

	svc, err := newRouterService(ctx, routeCache(st))
	if err != nil {
		return err
	}
	srv, err := server.New(svc, server.Config{Addr: sc.Addr})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	if sc.Watch {
		w := skills.NewWatcher(svc.Catalog(), skills.WithReloadHook(func(idx *skills.Index, err error) {
			if err != nil {
				presenter.Warning("skill reload failed: " + err.Error())
				return
			}
			presenter.Info(fmt.Sprintf("reloaded %d skills (revision %s)", idx.Len(), idx.Revision()))
		}))
		g.Go(func() error { return w.Run(ctx) })
	}
	if cfg.Router.CacheTTL > 0 {
		g.Go(func() error { return purgeExpired(ctx, st.RouteCache(cfg.Router.CacheTTL).Purge, cfg.Router.CacheTTL) })
	}

	presenter.Success("routing API listening on http://" + sc.Addr)
	presenter.Info("Press Ctrl+C to stop the server")
	return g.Wait()
}

// purgeExpired drops expired cache entries every ttl until ctx ends.
func purgeExpired(ctx context.Context, purge func(context.Context) (int64, error), ttl time.Duration) error {
	ticker := time.NewTicker(max(ttl, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := purge(ctx)
			if err != nil {
				logger.G(ctx).WithError(err).Warn("failed to purge route cache")
				continue
			}
			logger.G(ctx).WithField("entries", n).Debug("purged expired route cache entries")
		}
	}
}
