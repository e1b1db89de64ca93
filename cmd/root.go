// Package cmd holds the grove-memory subcommands.
package cmd

import (
	"context"
	"time"

	"github.com/grovetools/memory/cli"
	"github.com/grovetools/memory/config"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/spf13/cobra"
)

// Name is the binary name used in help and version output.
const Name = "grove-memory"

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand(Name, "Session, thread and lesson memory for coding assistants")
	root.Long = `grove-memory keeps per-project memory for coding assistants: which
sessions are running, which threads of work are still open, and which past
lessons ("scars") are relevant now. 'serve' speaks the tool protocol on stdio;
the other commands inspect and maintain the same files.`

	root.AddCommand(
		NewServeCmd(),
		NewSessionsCmd(),
		NewThreadsCmd(),
		NewStatusCmd(),
		NewLogsCmd(),
		NewSchemaCmd(),
		NewConfigCmd(),
		NewPathsCmd(),
		cli.NewVersionCommand(Name),
	)
	return root
}

// loadConfig loads the configuration and applies its logging section.
func loadConfig(cmd *cobra.Command) (*config.Config, cli.CommandOptions, error) {
	opts := cli.GetOptions(cmd)
	cfg, err := cli.LoadConfig(opts)
	if err != nil {
		return nil, opts, err
	}
	if err := cli.SetupLogging(cfg, opts); err != nil {
		cli.BootstrapLogger(opts).WithError(err).Warn("Logging setup incomplete")
	}
	return cfg, opts, nil
}

// withService runs fn against a service built from the command's
// configuration and closes it afterwards, waiting briefly for background
// uploads.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *memory.Service, opts cli.CommandOptions) error) error {
	cfg, opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := memory.New(memory.Options{Config: cfg})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, svc, opts)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
