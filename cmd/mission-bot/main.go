package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mission-bot",
	Short: "Publish freelance missions from Notion or Postgres to a Discord channel",
	// Running the binary without a subcommand starts the bot
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	setupLogging(os.Getenv("LOG_LEVEL"))

	rootCmd.AddCommand(
		serveCmd(),
		syncCmd(),
		checkCmd(),
		migrateCmd(),
		triggerCmd(),
		statusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// setupLogging installs a JSON logger at the requested level
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
}
