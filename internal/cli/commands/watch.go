package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	"github.com/leapstack-labs/hdbgraph/internal/loader"
	"github.com/leapstack-labs/hdbgraph/internal/source"
	"github.com/leapstack-labs/hdbgraph/internal/watch"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-analyze artifacts whenever they change",
		Long: `Analyze the artifacts directory, then keep watching it and re-analyze
after every burst of changes. Each reload prints one status line (one JSON
object per line with --output json).

Only local directories can be watched.`,
		Example: `  hdbgraph watch
  hdbgraph watch --debounce-ms 500`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.Flags().Int("debounce-ms", 0, "Quiet period before reloading, in milliseconds")
	return cmd
}

// reloadStatus is one line of watch output.
type reloadStatus struct {
	Time       time.Time `json:"time"`
	Changed    []string  `json:"changed,omitempty"`
	Artifacts  int       `json:"artifacts"`
	Nodes      int       `json:"nodes"`
	Edges      int       `json:"edges"`
	Unresolved int       `json:"unresolved"`
	Errors     int       `json:"errors"`
}

func runWatch(cmd *cobra.Command, _ []string) error {
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

	if _, ok := src.(*source.Local); !ok {
		return fmt.Errorf("cannot watch %s: only local directories can be watched", src.String())
	}

	r := cmdCtx.Renderer
	res, err := cmdCtx.LoadFrom(ctx, src)
	if err != nil {
		return err
	}
	w, err := newWatcher(cmdCtx, src)
	if err != nil {
		return err
	}
	if r.EffectiveMode() != output.ModeJSON {
		r.Printf("Watching %s (Ctrl+C to stop)\n", src.String())
	}
	printReload(r, newReloadStatus(res, nil))

	return w.Run(ctx, func(ctx context.Context, paths []string) {
		res, err := cmdCtx.LoadFrom(ctx, src)
		if err != nil {
			r.Warnf("reload failed: %v", err)
			return
		}
		printReload(r, newReloadStatus(res, paths))
	})
}

// newWatcher watches the root of a local source.
func newWatcher(cmdCtx *CommandContext, src source.Source) (*watch.Watcher, error) {
	local, ok := src.(*source.Local)
	if !ok {
		return nil, fmt.Errorf("cannot watch %s: only local directories can be watched", src.String())
	}
	return watch.New(watch.Config{
		Dir:      local.Root(),
		Debounce: time.Duration(cmdCtx.Cfg.Watch.DebounceMS) * time.Millisecond,
		Filter:   loader.Supported,
		Logger:   cmdCtx.Logger,
	})
}

func newReloadStatus(res *loader.Result, changed []string) reloadStatus {
	g := res.Graph()
	return reloadStatus{
		Time:       time.Now(),
		Changed:    changed,
		Artifacts:  len(res.Artifacts),
		Nodes:      g.Len(),
		Edges:      g.EdgeCount(),
		Unresolved: len(g.Order().Unresolved),
		Errors:     len(res.Errors),
	}
}

func printReload(r *output.Renderer, s reloadStatus) {
	if r.EffectiveMode() == output.ModeJSON {
		_ = r.JSON(s)
		return
	}
	line := fmt.Sprintf("[%s] %d artifacts, %d nodes, %d edges",
		s.Time.Format(time.TimeOnly), s.Artifacts, s.Nodes, s.Edges)
	if len(s.Changed) > 0 {
		line += fmt.Sprintf(" (%s changed)", output.FormatCount(len(s.Changed), "file", "files"))
	}
	if s.Unresolved > 0 {
		line += fmt.Sprintf(", %d in cycles", s.Unresolved)
	}
	if s.Errors > 0 {
		line += fmt.Sprintf(", %s", output.FormatCount(s.Errors, "load error", "load errors"))
	}
	r.Println(line)
}
