package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	serverrun "github.com/ozgurakan/marconi/internal/cmd/server"
	cfgpkg "github.com/ozgurakan/marconi/internal/config"
	logpkg "github.com/ozgurakan/marconi/pkg/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// Respect MARCONI_LOG_LEVEL for CLI output before the server logger takes over
	level := os.Getenv("MARCONI_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "marconi",
		Short: "Marconi queueing service CLI",
		Long:  "Marconi is a multi-tenant message queueing service. This CLI manages the server.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start marconi server (HTTP API and reclaimer)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			httpAddr, _ := cmd.Flags().GetString("http")
			driver, _ := cmd.Flags().GetString("storage")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			postgresURL, _ := cmd.Flags().GetString("postgres-url")
			reclaimInterval, _ := cmd.Flags().GetDuration("reclaim-interval")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg := cfgpkg.Default()
			if configPath != "" {
				loaded, err := cfgpkg.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			cfgpkg.FromEnv(&cfg)

			// Flags win over file and env values.
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if driver != "" {
				cfg.Storage.Driver = driver
			}
			if dataDir != "" {
				cfg.Storage.Pebble.DataDir = dataDir
			}
			if fsyncMode != "" {
				cfg.Storage.Pebble.Fsync = fsyncMode
			}
			if postgresURL != "" {
				cfg.Storage.Postgres.URL = postgresURL
			}
			if reclaimInterval > 0 {
				cfg.Reclaim.Interval = cfgpkg.Duration(reclaimInterval)
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, cfg); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("MARCONI_CONFIG"), "Path to YAML config file")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :8888)")
	serverStartCmd.Flags().String("storage", "", "Storage driver: pebble|postgres|memory")
	serverStartCmd.Flags().String("data-dir", "", "Data directory for the pebble driver (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("fsync", "", "Pebble fsync mode: always|interval|never")
	serverStartCmd.Flags().String("postgres-url", "", "Connection URL for the postgres driver")
	serverStartCmd.Flags().Duration("reclaim-interval", 0, "Interval between claim reclaim passes (0 uses the configured value)")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("marconi", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
