package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/splax/routedev/pkg/config"
	"github.com/splax/routedev/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "routedev",
	Short: "Route instrumentation devtools",
	Long: `routedev times every loader and action of an application, aggregates
the results per route and streams them to devtools panels over a websocket
bridge.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default routedev.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the layered configuration and applies global flags.
func loadConfig(cmd *cobra.Command) (config.DevtoolsConfig, error) {
	cfg, err := config.LoadDevtoolsConfig(configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg config.DevtoolsConfig) *slog.Logger {
	log := logger.NewWithWriter(os.Stdout, cfg.LogFormat, "routedev", logger.ParseLevel(cfg.LogLevel))
	slog.SetDefault(log)
	return log
}
