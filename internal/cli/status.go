package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/deepchat/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show whether the DeepChat daemon is running and, when it answers,
its session and request counters.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.ProcessRunning(pid) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	// The PID file is written at start, so its age is the uptime.
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	status, err := newAPIClient(resolveServerURL(cfg), 5*time.Second).Status(ctx)
	if err != nil {
		fmt.Fprintf(out, "API: %v\n", err)
		return nil
	}

	fmt.Fprintf(out, "Active sessions: %d\n", status.ActiveSessions)
	fmt.Fprintf(out, "Total requests: %d\n", status.TotalRequests)
	fmt.Fprintf(out, "Model API: %s\n", configured(status.APIStatus.PrimaryAPI))
	fmt.Fprintf(out, "Search API: %s\n", configured(status.APIStatus.SearchAPI))
	if status.LastActivity != nil {
		fmt.Fprintf(out, "Last activity: %s\n", status.LastActivity.Format(time.RFC3339))
	}
	return nil
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
