package cmd

import (
	"bufio"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grovetools/memory/cli"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the memory server log of this project",
		Long: `Prints the newest log file under the memory root's logs directory.

Examples:
  # Last 50 lines
  grove-memory logs --tail 50

  # Follow the log while an assistant is running
  grove-memory logs -f`,
		RunE: runLogs,
	}
	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", 100, "Number of lines to show from the end of the log (-1 for all)")
	cmd.Flags().StringP("grep", "g", "", "Only show lines containing this text")
	return cmd
}

func runLogs(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	cfg, err := cli.LoadConfig(opts)
	if err != nil {
		return err
	}
	follow, _ := cmd.Flags().GetBool("follow")
	lines, _ := cmd.Flags().GetInt("tail")
	filter, _ := cmd.Flags().GetString("grep")

	logFile, err := latestLogFile(paths.NewLayout(cfg.Root).Logs())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	emit := func(line string) {
		if filter == "" || strings.Contains(line, filter) {
			fmt.Fprintln(out, line)
		}
	}

	f, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	last, err := lastLines(f, lines)
	f.Close()
	if err != nil {
		return err
	}
	for _, line := range last {
		emit(line)
	}
	if !follow {
		return nil
	}

	t, err := tail.TailFile(logFile, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("failed to follow log file: %w", err)
	}
	defer t.Cleanup()
	defer t.Stop()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			emit(line.Text)
		}
	}
}

// latestLogFile returns the newest memory-<date>.log in dir.
func latestLogFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "memory-*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no log files in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// lastLines returns the final n lines of r; n < 0 returns all of them.
func lastLines(r io.Reader, n int) ([]string, error) {
	var ring []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if n >= 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring, scanner.Err()
}
