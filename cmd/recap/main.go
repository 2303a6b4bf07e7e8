// Recap turns Teams meetings into distributed AI summaries. The binary
// hosts the full pipeline (`recap serve`) plus operational subcommands for
// Graph subscriptions and manual backfill.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/recaphq/recap/pkg/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configDir string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:           "recap",
		Short:         "Teams meeting summary pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
			loadDotEnv(configDir)
		},
	}

	cmd.PersistentFlags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"), "configuration directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(&configDir),
		webhooksCmd(&configDir),
		backfillCmd(&configDir),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func loadDotEnv(configDir string) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file loaded", "path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolvePodID picks the worker pool identity for multi-replica
// coordination: POD_ID > HOSTNAME > "local".
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}
