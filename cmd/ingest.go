package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch the decision log and build the local vector index",
	Long: `Fetch every record from the configured Notion database, extract its text,
and build the vector index used to answer questions.

The run is all-or-nothing: on any failure the previous index (if one exists)
is left untouched. Re-running replaces the index.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}

	pipeline, err := a.IngestPipeline()
	if err != nil {
		return err
	}

	manifest, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("Indexed %d documents (%d chunks) into %s\n",
		manifest.Documents, manifest.Chunks, a.Config.VectorDir)
	fmt.Printf("Embedder: %s (dimension %d)\n",
		manifest.EmbedderModel, manifest.Dimension)
	return nil
}
