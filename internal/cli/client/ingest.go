package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/solvenia/kbcore/internal/ingest"
	"github.com/solvenia/kbcore/internal/openai"
	"github.com/solvenia/kbcore/internal/storage"
	"github.com/spf13/cobra"
)

// IngestCmd creates the ingest command.
func IngestCmd() *cobra.Command {
	var (
		source    string
		archive   bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a document into the knowledge store",
		Long: `Normalizes, chunks, deduplicates and embeds a text document, then
delivers the resulting chunks to the store.

Examples:
  # Ingest a document, using the file name as source label
  kbcore ingest manual-transito.txt

  # Ingest under an explicit source label
  kbcore ingest export.txt --source manual-transito.pdf

  # Also archive the raw document to S3-compatible storage
  kbcore ingest manual-transito.txt --archive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIngest(cmd, args[0], source, archive, batchSize, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source label for the document (default: file base name)")
	cmd.Flags().BoolVar(&archive, "archive", false, "Archive the raw document to S3-compatible storage")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Chunks processed concurrently per batch")

	return cmd
}

func runIngest(cmd *cobra.Command, path, source string, archive bool, batchSize int, outputJSON bool) error {
	ctx := context.Background()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	if source == "" {
		source = filepath.Base(path)
	}

	store, err := newStoreClient(cmd)
	if err != nil {
		return err
	}

	embedder, err := openai.NewClientFromEnv()
	if err != nil {
		return err
	}

	cfg := ingest.DefaultPipelineConfig()
	if batchSize > 0 {
		cfg.BatchSize = batchSize
	}

	var archiver ingest.Archiver
	if archive {
		archiver, err = newArchiveStore(ctx)
		if err != nil {
			return err
		}
	}

	pipeline := ingest.NewPipelineWithArchiver(store, store, embedder, archiver, cfg)

	result, err := pipeline.IngestDocument(ctx, source, string(raw))
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"source":  source,
			"saved":   result.Saved,
			"skipped": result.Skipped,
			"failed":  result.Failed,
		}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Ingested %s: %d saved, %d skipped, %d failed\n", source, result.Saved, result.Skipped, result.Failed)
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d chunks failed, first error: %w", result.Failed, result.FirstErr)
	}

	return nil
}

func newArchiveStore(ctx context.Context) (*storage.ArchiveStore, error) {
	endpoint := os.Getenv("KBCORE_S3_ENDPOINT")
	accessKey := os.Getenv("KBCORE_S3_ACCESS_KEY_ID")
	secretKey := os.Getenv("KBCORE_S3_SECRET_ACCESS_KEY")
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("archiving requires KBCORE_S3_ENDPOINT, KBCORE_S3_ACCESS_KEY_ID and KBCORE_S3_SECRET_ACCESS_KEY")
	}

	bucket := os.Getenv("KBCORE_S3_BUCKET")
	if bucket == "" {
		bucket = "kbcore-archive"
	}
	region := os.Getenv("KBCORE_S3_REGION")
	if region == "" {
		region = "us-east-1"
	}

	archiveStore, err := storage.NewArchiveStore(ctx, storage.ArchiveStoreConfig{
		Endpoint:        endpoint,
		Region:          region,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		Bucket:          bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive store: %w", err)
	}
	if err := archiveStore.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure archive bucket: %w", err)
	}

	return archiveStore, nil
}
