package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/hdbgraph/internal/cli/config"
	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	intconfig "github.com/leapstack-labs/hdbgraph/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new hdbgraph project",
		Long: `Create an hdbgraph.yaml configuration and a small src/ directory with a
sample view and procedure, ready for 'hdbgraph analyze'.`,
		Example: `  # Initialize in the current directory
  hdbgraph init

  # Initialize in a new directory
  hdbgraph init hana-lineage

  # Overwrite an existing configuration
  hdbgraph init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			mode := output.ModeAuto
			if cfg := config.FromContext(cmd.Context()); cfg != nil {
				mode = output.Mode(cfg.Output)
			}
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)
			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if existing := intconfig.FindConfigFile(dir); existing != "" && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", existing)
	}

	files, err := copyTemplate("minimal", dir, force)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	for _, f := range files {
		r.Printf("  created %s\n", filepath.Join(dir, filepath.FromSlash(f)))
	}
	r.Println()
	r.Success("hdbgraph project initialized")
	r.Println()
	r.Println("Next steps:")
	r.Println("  1. Put calculation views, views and procedures under src/")
	r.Println("  2. Run 'hdbgraph analyze' to build the dependency graph")
	r.Println("  3. Run 'hdbgraph order' for a deployment order")
	return nil
}
