package cmd

import (
	"github.com/grovetools/memory/cli"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the files and directories grove-memory uses.
type PathsOutput struct {
	Root           string `json:"root"`
	Registry       string `json:"registry"`
	Sessions       string `json:"sessions"`
	Threads        string `json:"threads"`
	SearchSnapshot string `json:"search_snapshot"`
	Logs           string `json:"logs"`
	ProjectConfig  string `json:"project_config"`
	GlobalConfig   string `json:"global_config"`
	SocketDir      string `json:"socket_dir"`
}

// NewPathsCmd creates the `paths` command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used for this project",
		Long: `Prints the memory root and the files under it, plus the global
configuration file and the diagnostics socket directory, as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cli.GetOptions(cmd))
			if err != nil {
				return err
			}
			layout := paths.NewLayout(cfg.Root)
			return cli.PrintJSON(cmd.OutOrStdout(), PathsOutput{
				Root:           layout.Root,
				Registry:       layout.Registry(),
				Sessions:       layout.Sessions(),
				Threads:        layout.Threads(),
				SearchSnapshot: layout.SearchSnapshot(),
				Logs:           layout.Logs(),
				ProjectConfig:  layout.ProjectConfig(),
				GlobalConfig:   paths.GlobalConfigFile(),
				SocketDir:      paths.SocketDir(),
			})
		},
	}
}
