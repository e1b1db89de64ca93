package cmd

import (
	"context"
	"os"
	"time"

	"github.com/grovetools/memory/cli"
	"github.com/grovetools/memory/config"
	"github.com/grovetools/memory/internal/diag"
	"github.com/grovetools/memory/internal/toolserver"
	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/grovetools/memory/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewServeCmd creates the `serve` command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory tools over stdio",
		Long: `Speaks the tool protocol on stdin/stdout until stdin closes or the process
is interrupted. Stdout carries only protocol messages; logs go to the memory
root's logs directory and, when not a terminal, to stderr.

Configuration changes to the policy values (thresholds, similarity, half-life)
are applied without a restart.`,
		RunE: runServe,
	}
	cmd.Flags().Bool("diag", false, "Expose diagnostics on a unix socket (overrides diagnostics.enabled)")
	cmd.Flags().String("socket", "", "Diagnostics socket path (default: per-process socket in the runtime dir)")
	cmd.Flags().Bool("no-watch", false, "Do not reload configuration changes")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLogger("serve")

	svc, err := memory.New(memory.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Close(ctx); err != nil {
			logger.WithError(err).Warn("Background effects did not finish before shutdown")
		}
	}()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	serveCtx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(serveCtx)

	tools := toolserver.New(svc, version.GetInfo().Version)
	g.Go(func() error {
		// The assistant closing stdin ends the server.
		defer cancel()
		return tools.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	})

	if err := startDiagnostics(ctx, g, cmd, cfg, svc, logger); err != nil {
		logger.WithError(err).Warn("Diagnostics socket unavailable")
	}

	noWatch, _ := cmd.Flags().GetBool("no-watch")
	if !noWatch && opts.ConfigFile == "" {
		if err := startWatcher(ctx, g, opts, svc, logger); err != nil {
			logger.WithError(err).Warn("Config hot reload disabled")
		}
	}

	err = g.Wait()
	logger.WithFields(logrus.Fields{"project": svc.Project()}).Info("Memory server stopped")
	return err
}

func startDiagnostics(ctx context.Context, g *errgroup.Group, cmd *cobra.Command, cfg *config.Config, svc *memory.Service, logger *logrus.Entry) error {
	enabled := cfg.Diagnostics.Enabled
	if cmd.Flags().Changed("diag") {
		enabled, _ = cmd.Flags().GetBool("diag")
	}
	if !enabled {
		return nil
	}

	socket, _ := cmd.Flags().GetString("socket")
	if socket == "" {
		socket = cfg.Diagnostics.Socket
	}
	if socket == "" {
		socket = paths.SocketPath(os.Getpid())
	}

	server := diag.New(svc, version.GetInfo().Version, logging.NewLogger("diag"))
	listener, err := server.Listen(socket)
	if err != nil {
		return err
	}
	g.Go(func() error { return server.Serve(listener) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Debug("Diagnostics shutdown")
		}
		_ = os.Remove(socket)
		return nil
	})
	return nil
}

func startWatcher(ctx context.Context, g *errgroup.Group, opts cli.CommandOptions, svc *memory.Service, logger *logrus.Entry) error {
	dir, err := cli.ProjectDir(opts)
	if err != nil {
		return err
	}
	watcher, err := config.NewWatcher(dir, 500*time.Millisecond, logging.NewLogger("config"), func(next *config.Config) {
		if next.Project != svc.Project() {
			logger.WithField("project", next.Project).Warn("Project changed in configuration; restart to apply")
		}
		svc.Reload(next)
	})
	if err != nil {
		return err
	}
	g.Go(func() error {
		watcher.Run(ctx)
		return nil
	})
	return nil
}
