package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geodata-tw/doorplate/internal/importer"
)

var (
	importCSVPath   string
	importClear     bool
	importChunkSize int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a door-number CSV register",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Migrate(ctx); err != nil {
			return err
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrapf(err, "open CSV file %s", importCSVPath)
		}
		defer f.Close()

		chunkSize := importChunkSize
		if chunkSize <= 0 {
			chunkSize = cfg.Import.ChunkSize
		}

		sum, err := importer.New(s).Run(ctx, f, importer.Options{
			Clear:     importClear,
			ChunkSize: chunkSize,
		})
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.String("csv", importCSVPath),
			zap.String("run_id", sum.RunID),
			zap.Int("rows_read", sum.RowsRead),
			zap.Int("rows_accepted", sum.RowsAccepted),
			zap.Int("rows_rejected", sum.RowsRejected),
			zap.Int64("rows_written", sum.RowsWritten),
			zap.Int("chunks_committed", sum.ChunksCommitted),
			zap.Int("chunks_failed", sum.ChunksFailed),
			zap.Duration("duration", sum.Duration),
		)
		if sum.ChunksFailed > 0 {
			return eris.Errorf("import finished with %d failed chunks", sum.ChunksFailed)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().BoolVar(&importClear, "clear", false, "delete existing data before import")
	importCmd.Flags().IntVar(&importChunkSize, "chunk-size", 0, "rows per transaction (default from config)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
