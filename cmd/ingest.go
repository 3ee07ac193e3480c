package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/ragd/internal/app"
	"github.com/corvid-labs/ragd/internal/config"
	"github.com/corvid-labs/ragd/internal/ingest"
)

var (
	flagIngestID   string
	flagIngestMeta map[string]string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path-or-url>...",
	Short: "Ingest documents into the index",
	Long: `Ingest one or more sources. Local paths are read verbatim; http(s)
URLs go through readable-text extraction first. Re-ingesting a source with
the same --id replaces its previous chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&flagIngestID, "id", "",
		"document ID (only valid with a single source; default: generated)")
	ingestCmd.Flags().StringToStringVar(&flagIngestMeta, "meta", nil,
		"document metadata as key=value pairs")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(sources []string) error {
	if flagIngestID != "" && len(sources) > 1 {
		return fmt.Errorf("--id requires exactly one source, got %d", len(sources))
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(closeCtx)
	}()

	for _, src := range sources {
		result, err := a.Pipeline.Ingest(ctx, ingest.Request{
			ID:        flagIngestID,
			SourceURI: src,
			Metadata:  flagIngestMeta,
		})
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", src, err)
		}
		verb := "ingested"
		if result.Replaced {
			verb = "re-ingested"
		}
		fmt.Printf("%s %s as %s (%d chunks)\n", verb, src, result.DocumentID, result.Chunks)
	}
	return nil
}
