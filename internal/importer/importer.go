package importer

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geodata-tw/doorplate/internal/model"
	"github.com/geodata-tw/doorplate/internal/store"
)

// DefaultChunkSize is the number of addresses written per transaction
// when no explicit size is configured.
const DefaultChunkSize = 5000

// Options controls a single import run.
type Options struct {
	// Clear drops all existing addresses and statistics before the
	// first chunk is written.
	Clear bool
	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int
}

// Summary reports the outcome of one import run.
type Summary struct {
	RunID           string             `json:"run_id"`
	RowsRead        int                `json:"rows_read"`
	RowsAccepted    int                `json:"rows_accepted"`
	RowsRejected    int                `json:"rows_rejected"`
	Rejects         map[RejectKind]int `json:"rejects,omitempty"`
	RowsWritten     int64              `json:"rows_written"`
	ChunksCommitted int                `json:"chunks_committed"`
	ChunksFailed    int                `json:"chunks_failed"`
	Cleared         bool               `json:"cleared"`
	Duration        time.Duration      `json:"duration"`
}

// Importer drives the CSV ingest pipeline: read, validate, transform,
// chunked upsert, then a full statistics rebuild.
type Importer struct {
	store store.Store
	log   *zap.Logger
}

func New(s store.Store) *Importer {
	return &Importer{
		store: s,
		log:   zap.L().With(zap.String("component", "importer")),
	}
}

// Run imports one CSV stream. Row-level rejections and chunk-level
// write failures are recorded in the Summary and do not abort the run;
// a failed statistics rebuild does, because it would leave the cache
// inconsistent with the data just written.
func (imp *Importer) Run(ctx context.Context, r io.Reader, opts Options) (*Summary, error) {
	start := time.Now()
	sum := &Summary{
		RunID:   uuid.NewString(),
		Rejects: make(map[RejectKind]int),
	}
	log := imp.log.With(zap.String("run_id", sum.RunID))

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	reader, err := NewRecordReader(r)
	if err != nil {
		return nil, err
	}

	if opts.Clear {
		if err := imp.store.Clear(ctx); err != nil {
			return nil, eris.Wrap(err, "importer: clear existing data")
		}
		sum.Cleared = true
		log.Info("cleared existing data before import")
	}

	accepted := make(chan model.Address, chunkSize)

	g, gctx := errgroup.WithContext(ctx)

	// Producer: read and validate rows. Counter fields written here are
	// not touched by the consumer.
	g.Go(func() error {
		defer close(accepted)
		for {
			raw, err := reader.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			sum.RowsRead++

			addr, err := Validate(raw)
			if err != nil {
				sum.RowsRejected++
				sum.Rejects[KindOf(err)]++
				log.Debug("row rejected",
					zap.Int("line", raw.Line),
					zap.String("reason", string(KindOf(err))),
				)
				continue
			}
			sum.RowsAccepted++

			select {
			case accepted <- addr:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Consumer: batch accepted rows into chunks, one transaction each.
	g.Go(func() error {
		chunk := make([]model.Address, 0, chunkSize)

		flush := func() {
			if len(chunk) == 0 {
				return
			}
			n, err := imp.store.UpsertAddresses(gctx, chunk)
			if err != nil {
				sum.ChunksFailed++
				log.Error("chunk write failed",
					zap.Int("chunk_rows", len(chunk)),
					zap.Error(err),
				)
			} else {
				sum.ChunksCommitted++
				sum.RowsWritten += n
			}
			chunk = chunk[:0]
		}

		for addr := range accepted {
			chunk = append(chunk, addr)
			if len(chunk) >= chunkSize {
				flush()
			}
		}
		flush()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "importer: pipeline")
	}

	// The statistics cache must reflect the rows just written. A
	// rebuild failure is fatal even though chunk failures are not.
	if err := imp.store.RebuildStats(ctx); err != nil {
		return nil, eris.Wrap(err, "importer: rebuild statistics cache")
	}

	sum.Duration = time.Since(start)
	log.Info("import finished",
		zap.Int("rows_read", sum.RowsRead),
		zap.Int("rows_accepted", sum.RowsAccepted),
		zap.Int("rows_rejected", sum.RowsRejected),
		zap.Int64("rows_written", sum.RowsWritten),
		zap.Int("chunks_committed", sum.ChunksCommitted),
		zap.Int("chunks_failed", sum.ChunksFailed),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}
