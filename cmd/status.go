package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/grovetools/memory/cli"
	"github.com/grovetools/memory/internal/diag"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/grovetools/memory/pkg/models"
	"github.com/spf13/cobra"
)

// statusOutput is the JSON shape of `status`.
type statusOutput struct {
	Project     string               `json:"project"`
	Root        string               `json:"root"`
	Remote      bool                 `json:"remote_configured"`
	Sessions    int                  `json:"registered_sessions"`
	OpenThreads int                  `json:"open_threads"`
	Servers     []serverStatus       `json:"servers"`
	Local       *memory.HealthReport `json:"local,omitempty"`
}

type serverStatus struct {
	diag.Endpoint
	Health *memory.HealthReport `json:"health,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// NewStatusCmd creates the `status` command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show memory status and the health of running servers",
		Long: `Shows the local memory state of the project and asks every running server
with a diagnostics socket for its health report. Servers without diagnostics
are not listed; --local computes a health report in this process instead.`,
		RunE: runStatus,
	}
	cmd.Flags().String("socket", "", "Query only this diagnostics socket")
	cmd.Flags().Bool("local", false, "Include a health report computed by this process")
	cmd.Flags().Int("limit", 5, "Recent failures to show per server")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	socket, _ := cmd.Flags().GetString("socket")
	local, _ := cmd.Flags().GetBool("local")
	limit, _ := cmd.Flags().GetInt("limit")

	return withService(cmd, func(ctx context.Context, svc *memory.Service, opts cli.CommandOptions) error {
		status := statusOutput{
			Project:     svc.Project(),
			Root:        svc.Layout().Root,
			Remote:      svc.Config().Remote.Enabled(),
			Sessions:    len(svc.Registry().List()),
			OpenThreads: len(svc.Threads().List(models.ThreadOpen)),
			Servers:     []serverStatus{},
		}

		endpoints := []diag.Endpoint{{Socket: socket}}
		if socket == "" {
			found, err := diag.Discover("")
			if err != nil {
				return err
			}
			endpoints = found
		}
		for _, ep := range endpoints {
			status.Servers = append(status.Servers, queryServer(ctx, ep, limit))
		}
		if local {
			status.Local = svc.Health(ctx, limit)
		}

		out := cmd.OutOrStdout()
		if opts.JSONOutput {
			return cli.PrintJSON(out, status)
		}

		cli.Heading(out, "Memory")
		fmt.Fprintf(out, "  project:      %s\n", status.Project)
		fmt.Fprintf(out, "  root:         %s\n", status.Root)
		fmt.Fprintf(out, "  remote:       %v\n", status.Remote)
		fmt.Fprintf(out, "  sessions:     %d\n", status.Sessions)
		fmt.Fprintf(out, "  open threads: %d\n", status.OpenThreads)

		fmt.Fprintln(out)
		cli.Heading(out, fmt.Sprintf("Servers (%d)", len(status.Servers)))
		for _, s := range status.Servers {
			printServer(cmd, s)
		}
		if status.Local != nil {
			fmt.Fprintln(out)
			cli.Heading(out, "Local health")
			printHealth(cmd, status.Local)
		}
		return nil
	})
}

func queryServer(ctx context.Context, ep diag.Endpoint, limit int) serverStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s := serverStatus{Endpoint: ep}
	client := diag.NewClient(ep.Socket)
	if s.PID == 0 {
		if info, err := client.Info(ctx); err == nil {
			s.PID = info.PID
		}
	}
	health, err := client.Health(ctx, limit)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Health = health
	return s
}

func printServer(cmd *cobra.Command, s serverStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  pid %d  %s\n", s.PID, s.Socket)
	if s.Error != "" {
		fmt.Fprintf(out, "    unreachable: %s\n", s.Error)
		return
	}
	printHealth(cmd, s.Health)
}

func printHealth(cmd *cobra.Command, h *memory.HealthReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "    healthy: %v\n", h.Healthy)
	if h.Session != nil {
		fmt.Fprintf(out, "    session: %s (%s)\n", h.Session.SessionID, h.Session.Agent)
	}
	fmt.Fprintf(out, "    cache:   %d scars, origin %s, stale %v\n", h.Cache.Count, h.Cache.Origin, h.Cache.Stale)
	if h.Remote.Enabled {
		fmt.Fprintf(out, "    remote:  reachable %v, %d consecutive failures\n", h.Remote.Reachable, h.Remote.Failures)
	}
	for _, f := range h.Effects.RecentFailures {
		fmt.Fprintf(out, "    failed %s %q: %s\n", f.Category, f.Label, f.Error)
	}
}
