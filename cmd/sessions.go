package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/grovetools/memory/cli"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/process"
	"github.com/spf13/cobra"
)

// NewSessionsCmd creates the `sessions` command group.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain the session registry",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsPruneCmd(), newSessionsMigrateCmd())
	return cmd
}

// sessionRow is one registry entry as shown by `sessions list`.
type sessionRow struct {
	models.RegistryEntry
	Alive    *bool `json:"alive,omitempty"`
	HasState bool  `json:"has_state"`
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *memory.Service, opts cli.CommandOptions) error {
				self := process.Current()
				rows := []sessionRow{}
				for _, e := range svc.Registry().List() {
					row := sessionRow{RegistryEntry: e}
					if e.Hostname == self.Hostname {
						alive := process.IsProcessAlive(e.PID)
						row.Alive = &alive
					}
					_, err := svc.Registry().LoadState(e.SessionID)
					row.HasState = err == nil
					rows = append(rows, row)
				}

				out := cmd.OutOrStdout()
				if opts.JSONOutput {
					return cli.PrintJSON(out, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, "No registered sessions.")
					return nil
				}
				table := cli.NewTable(out, "session", "agent", "host", "pid", "alive", "age", "state")
				now := time.Now()
				for _, r := range rows {
					alive := "?"
					if r.Alive != nil {
						alive = fmt.Sprint(*r.Alive)
					}
					state := "ok"
					if !r.HasState {
						state = "missing"
					}
					table.Row(r.SessionID, r.Agent, r.Hostname, r.PID, alive, r.Age(now).Round(time.Second), state)
				}
				return table.Flush()
			})
		},
	}
}

func newSessionsPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove stale and dead sessions",
		Long: `Applies the same rules a starting server applies: entries without state
past the grace period, entries older than the stale threshold, and entries of
dead processes older than the adopt threshold are removed. Recently crashed
sessions are left for the next server to adopt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *memory.Service, opts cli.CommandOptions) error {
				report, err := svc.Registry().Sweep(ctx, process.Current().Hostname)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSONOutput {
					return cli.PrintJSON(out, report)
				}
				for _, r := range report.Removed {
					fmt.Fprintf(out, "removed %s (pid %d, %s)\n", r.Entry.SessionID, r.Entry.PID, r.Reason)
				}
				for _, id := range report.OrphansRemoved {
					fmt.Fprintf(out, "removed orphan directory %s\n", id)
				}
				fmt.Fprintf(out, "%d sessions pruned, %d orphan directories removed\n", len(report.Removed), len(report.OrphansRemoved))
				return nil
			})
		},
	}
}

func newSessionsMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Convert a legacy single-session file into the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *memory.Service, opts cli.CommandOptions) error {
				migrated, err := svc.Registry().MigrateFromLegacy(ctx, process.Current())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSONOutput {
					return cli.PrintJSON(out, map[string]bool{"migrated": migrated})
				}
				if migrated {
					fmt.Fprintln(out, "Legacy session migrated.")
				} else {
					fmt.Fprintln(out, "No legacy session file found.")
				}
				return nil
			})
		},
	}
}
