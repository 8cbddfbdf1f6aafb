package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/exporter"
	"econetl/internal/validation"
	"econetl/pkg/contracts/domain"
)

// Loader moves a layer artifact into the warehouse in fixed-size batches
type Loader struct {
	wh     Warehouse
	cfg    config.WarehouseConfig
	files  *validation.FileValidator
	logger *slog.Logger
}

// NewLoader creates a loader writing to wh
func NewLoader(wh Warehouse, cfg config.WarehouseConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1000
	}
	logger = logger.With(slog.String("component", "loader"))
	return &Loader{
		wh:     wh,
		cfg:    cfg,
		files:  validation.NewFileValidator(logger),
		logger: logger,
	}
}

// Load reads artifact and inserts it batch by batch. The returned metrics are
// valid even when err is not nil.
func (l *Loader) Load(ctx context.Context, artifact string) (domain.LoadMetrics, error) {
	metrics := domain.LoadMetrics{
		Artifact:     artifact,
		TargetSchema: l.cfg.SchemaName,
		TargetTable:  l.cfg.Table,
		BatchSize:    l.cfg.BatchSize,
	}

	rows, err := l.readRows(artifact)
	if err != nil {
		return metrics, apperrors.NewDataLoadError("failed to read load artifact", err).
			WithContext("artifact", artifact)
	}

	if err := l.wh.Migrate(ctx, l.cfg.SchemaName, l.cfg.Table); err != nil {
		return metrics, apperrors.NewDataLoadError("failed to migrate warehouse", err)
	}

	batches := Batches(len(rows), l.cfg.BatchSize)
	metrics.Batches = len(batches)

	l.logger.InfoContext(ctx, "load_start",
		slog.String("artifact", filepath.Base(artifact)),
		slog.Int("rows", len(rows)),
		slog.Int("batches", len(batches)))

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return metrics, apperrors.NewDataLoadError("load cancelled", err)
		}

		inserted, err := l.wh.InsertBatch(ctx, l.cfg.SchemaName, l.cfg.Table, rows[b.Start:b.End])
		switch {
		case err == nil:
			metrics.RowsLoaded += inserted
			if skipped := b.End - b.Start - inserted; skipped > 0 {
				metrics.RowsSkipped += skipped
				metrics.Conflicts = append(metrics.Conflicts,
					fmt.Sprintf("batch %d (rows %d-%d): skipped %d rows already in the warehouse", i+1, b.Start, b.End-1, skipped))
				l.logger.InfoContext(ctx, "load_rows_skipped",
					slog.Int("batch", i+1),
					slog.Int("skipped", skipped))
			}
		case errors.Is(err, ErrConflict):
			metrics.BatchesFailed++
			msg := fmt.Sprintf("batch %d (rows %d-%d): %v", i+1, b.Start, b.End-1, err)
			metrics.Conflicts = append(metrics.Conflicts, msg)
			l.logger.WarnContext(ctx, "load_batch_conflict",
				slog.Int("batch", i+1),
				slog.String("error", err.Error()))
		default:
			metrics.BatchesFailed++
			l.logger.ErrorContext(ctx, "load_batch_failed",
				slog.Int("batch", i+1),
				slog.String("error", err.Error()))
			return metrics, apperrors.NewDataLoadError(fmt.Sprintf("batch %d failed", i+1), err).
				WithContext("rows_loaded", metrics.RowsLoaded)
		}
	}

	l.logger.InfoContext(ctx, "load_complete",
		slog.Int("rows_loaded", metrics.RowsLoaded),
		slog.Int("rows_skipped", metrics.RowsSkipped),
		slog.Int("batches_failed", metrics.BatchesFailed))

	return metrics, nil
}

func (l *Loader) readRows(artifact string) ([]domain.GoldRecord, error) {
	if err := l.files.ValidateFile(artifact, ".csv"); err != nil {
		return nil, err
	}
	if l.cfg.LoadLayer != string(config.LayerSilver) {
		return exporter.ReadGoldFile(artifact)
	}
	silver, err := exporter.ReadSilverFile(artifact)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.GoldRecord, len(silver))
	for i := range silver {
		rows[i] = domain.GoldRecord{SilverRecord: silver[i]}
	}
	return rows, nil
}

// Batch is a half-open row range [Start, End)
type Batch struct {
	Start int
	End   int
}

// Batches splits n rows into ceil(n/size) consecutive ranges
func Batches(n, size int) []Batch {
	if n <= 0 || size <= 0 {
		return nil
	}
	out := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Batch{Start: start, End: end})
	}
	return out
}
