package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/callguard/internal/config"
	"github.com/harun/callguard/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the callguard daemon in the foreground",
	Long: `Start the callguard daemon in the foreground.
The daemon serves metrics when enabled, runs the idempotency janitor and reloads
rate limits when the config file changes. Stop it with SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	return runDaemon(cmd, cfg, loader)
}

// runDaemon starts a daemon for cfg and blocks until it is signalled to stop.
func runDaemon(cmd *cobra.Command, cfg *config.Config, loader *config.Loader) error {
	path := getPIDFilePath()
	if daemon.IsRunning(path) {
		return fmt.Errorf("daemon is already running (PID file: %s)", path)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.Options{PIDFile: path, Loader: loader})
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	if addr := d.Status().MetricsAddr; addr != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s%s\n", addr, cfg.Metrics.Path)
	}

	d.Wait()
	return nil
}
