package cli

import (
	"github.com/spf13/cobra"
)

var (
	metricsAddr string
	metricsPath string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Prometheus metrics",
}

var metricsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon with the metrics endpoint enabled",
	Long: `Run the daemon in the foreground with the Prometheus endpoint enabled,
regardless of metrics.enabled in the config file.`,
	RunE: runMetricsServe,
}

func init() {
	metricsServeCmd.Flags().StringVar(&metricsAddr, "addr", "", "listen address (default from config)")
	metricsServeCmd.Flags().StringVar(&metricsPath, "path", "", "metrics path (default from config)")

	metricsCmd.AddCommand(metricsServeCmd)
	rootCmd.AddCommand(metricsCmd)
}

func runMetricsServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}

	cfg.Metrics.Enabled = true
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if metricsPath != "" {
		cfg.Metrics.Path = metricsPath
	}

	return runDaemon(cmd, cfg, loader)
}
