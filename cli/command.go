package cli

import (
	"fmt"
	"os"

	"github.com/grovetools/memory/config"
	"github.com/spf13/cobra"
)

// CommandOptions holds the flags every grove-memory command accepts.
type CommandOptions struct {
	ConfigFile string
	ProjectDir string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a command with the standard flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to a memory config file")
	cmd.PersistentFlags().StringP("project-dir", "C", "", "Project directory (default: current directory)")

	return cmd
}

// GetOptions extracts common options from a command.
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	projectDir, _ := cmd.Flags().GetString("project-dir")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return CommandOptions{
		ConfigFile: configFile,
		ProjectDir: projectDir,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// LoadConfig loads the configuration the options point at: an explicit file,
// or the layered configuration of the project directory.
func LoadConfig(opts CommandOptions) (*config.Config, error) {
	if opts.ConfigFile != "" {
		return config.Load(opts.ConfigFile)
	}
	dir, err := ProjectDir(opts)
	if err != nil {
		return nil, err
	}
	return config.LoadFromWithLogger(dir, BootstrapLogger(opts))
}

// ProjectDir returns the project directory the command acts on.
func ProjectDir(opts CommandOptions) (string, error) {
	if opts.ProjectDir != "" {
		return opts.ProjectDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}
