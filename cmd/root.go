// Package cmd defines the ragd command-line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/ragd/internal/log"
)

var (
	flagLogLevel string
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:           "ragd",
	Short:         "Retrieval-augmented question answering over your documents",
	Long: `ragd ingests documents, indexes them as embeddings and answers
questions grounded in the retrieved context, with citations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false,
		"emit logs as JSON")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger from the persistent flags.
func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flagLogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLogs})
}
