package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/hdbgraph/internal/api"
	"github.com/leapstack-labs/hdbgraph/internal/watch"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Watch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dependency graph over HTTP",
		Long: `Analyze the artifacts and serve the result as a read-only JSON API.

Endpoints:
  GET  /healthz            liveness and graph size
  GET  /api/graph          nodes, kind conflicts and load errors
  GET  /api/order          build order
  GET  /api/nodes/{id}     one node with its lineage and summary
  POST /api/parse?name=F   parse a single artifact body without storing it

With --watch, the served graph is rebuilt whenever a local artifact changes.`,
		Example: `  hdbgraph serve
  hdbgraph serve --port 9000 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().String("host", "", "Interface to listen on")
	cmd.Flags().IntP("port", "p", 0, "Port to listen on")
	cmd.Flags().Int("debounce-ms", 0, "Quiet period before reloading, in milliseconds")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Reload the graph when artifacts change")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	src, cleanup, err := cmdCtx.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := cmdCtx.LoadFrom(ctx, src)
	if err != nil {
		return err
	}

	var w *watch.Watcher
	if opts.Watch {
		if w, err = newWatcher(cmdCtx, src); err != nil {
			return err
		}
	}

	cfg := cmdCtx.Cfg.API
	server := api.NewServer(api.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         cmdCtx.Logger,
	})
	server.Update(api.NewSnapshot(res))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx)
	})

	if w != nil {
		g.Go(func() error {
			return w.Run(gctx, func(ctx context.Context, _ []string) {
				res, err := cmdCtx.LoadFrom(ctx, src)
				if err != nil {
					cmdCtx.Logger.Error("reload failed", "error", err)
					return
				}
				server.Update(api.NewSnapshot(res))
			})
		})
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	cmdCtx.Renderer.Printf("Serving %s on http://%s\n", src.String(), addr)
	cmdCtx.Renderer.Println("Press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
