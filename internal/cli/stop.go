package cli

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/callguard/internal/daemon"
)

const stopPollInterval = 100 * time.Millisecond

var (
	stopTimeout time.Duration
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the callguard daemon",
	Long: `Stop the callguard daemon. SIGTERM lets it drain in-flight tool calls and flush
spans; if it is still alive after --timeout it is killed. --force kills immediately.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "how long to wait for a graceful shutdown")
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "send SIGKILL without waiting")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := getPIDFilePath()

	if !daemon.IsRunning(path) {
		return fmt.Errorf("daemon is not running (PID file: %s)", path)
	}

	pid, err := daemon.ReadPID(path)
	if err != nil {
		return err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}

	if !stopForce {
		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("send SIGTERM to %d: %w", pid, err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if waitForExit(ctx, path, stopTimeout) {
			fmt.Fprintf(out, "Daemon %d stopped\n", pid)
			return nil
		}
		fmt.Fprintf(out, "Daemon %d still running after %s, sending SIGKILL\n", pid, stopTimeout)
	}

	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("send SIGKILL to %d: %w", pid, err)
	}
	// A killed daemon cannot remove its own PID file.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	fmt.Fprintf(out, "Daemon %d killed\n", pid)
	return nil
}

// waitForExit polls the PID file until the daemon is gone or timeout elapses.
func waitForExit(ctx context.Context, pidFile string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		if !daemon.IsRunning(pidFile) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
