package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/grovetools/memory/cli"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/threads"
	"github.com/spf13/cobra"
)

// NewThreadsCmd creates the `threads` command group.
func NewThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and maintain project threads",
	}
	cmd.AddCommand(newThreadsListCmd(), newThreadsResolveCmd(), newThreadsTriageCmd())
	return cmd
}

func newThreadsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetStringSlice("status")
			var statuses []models.ThreadStatus
			for _, s := range raw {
				statuses = append(statuses, models.ThreadStatus(strings.ToLower(s)))
			}
			return withService(cmd, func(ctx context.Context, svc *memory.Service, opts cli.CommandOptions) error {
				list, err := svc.ListThreads(ctx, statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSONOutput {
					if list == nil {
						list = []models.Thread{}
					}
					return cli.PrintJSON(out, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(out, "No threads.")
					return nil
				}
				table := cli.NewTable(out, "id", "status", "idle", "touches", "text")
				now := time.Now()
				for _, t := range list {
					table.Row(t.ID, t.Status, idle(t, now), t.TouchCount, truncate(t.Text, 70))
				}
				return table.Flush()
			})
		},
	}
	cmd.Flags().StringSliceP("status", "s", nil, "Filter by status (open, resolved, dormant, archived)")
	return cmd
}

func newThreadsResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <thread-id-or-text>",
		Short: "Resolve a thread by id or by text it contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			note, _ := cmd.Flags().GetString("note")
			target := strings.TrimSpace(args[0])
			return withService(cmd, func(ctx context.Context, svc *memory.Service, opts cli.CommandOptions) error {
				result, err := svc.Threads().Resolve(ctx, threads.ResolveRequest{
					ThreadID:  target,
					TextMatch: target,
					Note:      note,
				})
				if err != nil {
					return err
				}
				if svc.Config().Remote.Enabled() && result.Changed() {
					if err := svc.Threads().Push(ctx); err != nil {
						cli.BootstrapLogger(opts).WithError(err).Warn("Resolved locally; remote not updated")
					}
				}

				out := cmd.OutOrStdout()
				if opts.JSONOutput {
					return cli.PrintJSON(out, result)
				}
				switch {
				case result.Archived:
					fmt.Fprintf(out, "%s is archived and was left unchanged\n", result.Resolved.ID)
				case result.AlreadyResolved:
					fmt.Fprintf(out, "%s was already resolved\n", result.Resolved.ID)
				default:
					fmt.Fprintf(out, "resolved %s: %s\n", result.Resolved.ID, result.Resolved.Text)
				}
				if result.Cascaded != nil {
					fmt.Fprintf(out, "also resolved %s: %s\n", result.Cascaded.ID, result.Cascaded.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("note", "n", "", "Resolution note; \"duplicate of t-xxxxxxxx\" also resolves that thread")
	return cmd
}

func newThreadsTriageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Score open threads by vitality",
		Long: `Scores open and dormant threads by recency and touch count. Without --apply
nothing is written; with --apply stale open threads become dormant and, with
--archive, long-dormant threads are archived.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			apply, _ := cmd.Flags().GetBool("apply")
			archive, _ := cmd.Flags().GetBool("archive")
			return withService(cmd, func(ctx context.Context, svc *memory.Service, opts cli.CommandOptions) error {
				var report threads.TriageReport
				if apply {
					r, err := svc.CleanupThreads(ctx, memory.SessionContext{}, archive)
					if err != nil {
						return err
					}
					report = *r
				} else {
					report = svc.Threads().Preview(archive)
				}

				out := cmd.OutOrStdout()
				if opts.JSONOutput {
					return cli.PrintJSON(out, report)
				}
				printBucket(out, "Active", report.Active)
				printBucket(out, "Cooling", report.Cooling)
				printBucket(out, "Dormant", report.Dormant)
				verb := "would be"
				if apply {
					verb = "were"
				}
				fmt.Fprintf(out, "\n%d threads %s demoted, %d %s archived\n", report.Demoted, verb, len(report.Archived), verb)
				return nil
			})
		},
	}
	cmd.Flags().Bool("apply", false, "Persist status changes")
	cmd.Flags().Bool("archive", false, "Archive dormant threads idle past the archive window")
	return cmd
}

func printBucket(out io.Writer, title string, list []threads.TriagedThread) {
	cli.Heading(out, fmt.Sprintf("%s (%d)", title, len(list)))
	for _, t := range list {
		fmt.Fprintf(out, "  %s  %.2f  %s\n", t.ID, t.Vitality, truncate(t.Text, 70))
	}
}

func idle(t models.Thread, now time.Time) string {
	last := t.LastActivity()
	if last.IsZero() {
		return "-"
	}
	d := now.Sub(last)
	if d >= 48*time.Hour {
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
	return d.Round(time.Minute).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
