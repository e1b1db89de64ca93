package cmd

import (
	"fmt"
	"os"

	"github.com/grovetools/memory/cli"
	"github.com/grovetools/memory/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the `config` command.
func NewConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Display the configuration layers and the merged result",
		Long: `Shows which configuration files apply, in order:
1. Global config ($XDG_CONFIG_HOME/grove/memory.yml or memory.toml)
2. Project config (<root>/config.yml, config.yaml or config.toml)
3. GROVE_MEMORY_* environment variables
followed by the merged configuration with secrets masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			cfg, err := cli.LoadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if opts.JSONOutput {
				return cli.PrintJSON(out, cfg.Redacted())
			}

			var layers []string
			if opts.ConfigFile != "" {
				layers = []string{opts.ConfigFile}
			} else {
				dir, err := cli.ProjectDir(opts)
				if err != nil {
					return err
				}
				layers = config.LayerFiles(dir)
			}
			for _, path := range layers {
				state := "missing"
				if _, err := os.Stat(path); err == nil {
					state = "applied"
				}
				fmt.Fprintf(out, "# %-8s %s\n", state, path)
			}

			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			fmt.Fprintf(out, "---\n%s", data)
			return nil
		},
	}
}
