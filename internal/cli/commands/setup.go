package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/cli/config"
	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	"github.com/leapstack-labs/hdbgraph/internal/loader"
	"github.com/leapstack-labs/hdbgraph/internal/source"
	"github.com/leapstack-labs/hdbgraph/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext builds a CommandContext from the config stored by the
// root command, loading it from the working directory when absent.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		var err error
		if cfg, err = config.LoadConfig("", nil); err != nil {
			return nil, err
		}
	}

	mode, err := output.ParseMode(cfg.Output)
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}, nil
}

// OpenSource opens the configured artifact location. The returned cleanup
// function must be called when done.
func (c *CommandContext) OpenSource(ctx context.Context) (source.Source, func(), error) {
	src, err := source.Open(ctx, c.Cfg.ArtifactsDir, c.Cfg.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifacts %s: %w", c.Cfg.ArtifactsDir, err)
	}
	cleanup := func() {
		if closer, ok := src.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	return src, cleanup, nil
}

// LoadFrom loads every artifact of src. Per-file failures are reported as
// warnings and kept in the result.
func (c *CommandContext) LoadFrom(ctx context.Context, src source.Source) (*loader.Result, error) {
	c.Logger.Debug("loading artifacts", "source", src.String())

	l := loader.New(loader.Options{Concurrency: c.Cfg.Concurrency, Logger: c.Logger})
	res, err := l.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	for _, e := range res.Errors {
		c.Renderer.Warnf("warning: %v", e)
	}
	return res, nil
}

// Load opens the configured source and loads it.
func (c *CommandContext) Load(ctx context.Context) (*loader.Result, error) {
	src, cleanup, err := c.OpenSource(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return c.LoadFrom(ctx, src)
}

// OpenStore opens the run store at the configured state path.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.Store, error) {
	store, err := state.Open(ctx, c.Cfg.StatePath, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", c.Cfg.StatePath, err)
	}
	return store, nil
}

// findNode resolves id against the graph, falling back to a
// case-insensitive match.
func findNode(g *artifact.Graph, id string) (*artifact.Node, error) {
	if n, ok := g.Get(id); ok {
		return n, nil
	}
	for _, n := range g.Nodes() {
		if strings.EqualFold(n.ID, id) {
			return n, nil
		}
	}
	return nil, fmt.Errorf("node not found: %s", id)
}

// kindOrder lists kinds in display order.
var kindOrder = []artifact.Kind{artifact.CalcView, artifact.SQLView, artifact.Procedure, artifact.Table}
