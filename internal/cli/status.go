package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/callguard/internal/config"
	"github.com/harun/callguard/internal/daemon"
)

const metricsCheckTimeout = 2 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show whether a callguard daemon owns the PID file, its uptime and whether its
metrics endpoint answers.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := getPIDFilePath()

	if !daemon.IsRunning(path) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(path)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// The PID file is written on start, so its age is the uptime.
	if info, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	cfg, _, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: unreadable (%v)\n", err)
		return nil
	}
	printMetricsStatus(cmd.Context(), out, cfg.Metrics)
	return nil
}

func printMetricsStatus(ctx context.Context, out io.Writer, m config.MetricsConfig) {
	if !m.Enabled {
		fmt.Fprintln(out, "Metrics: disabled")
		return
	}
	url := "http://" + m.Addr + m.Path
	if err := checkMetrics(ctx, url); err != nil {
		fmt.Fprintf(out, "Metrics: %s (unreachable: %v)\n", url, err)
		return
	}
	fmt.Fprintf(out, "Metrics: %s (ok)\n", url)
}

func checkMetrics(ctx context.Context, url string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, metricsCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
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
