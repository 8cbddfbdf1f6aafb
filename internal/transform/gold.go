package transform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"time"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/exporter"
	"econetl/internal/files"
	"econetl/pkg/contracts/domain"
)

const (
	// YoYPeriods is the lag of the year-over-year change
	YoYPeriods = 4
	// MovingAverageWindow is the length of the trailing moving average
	MovingAverageWindow = 12
)

// SilverToGold joins silver artifacts into the analytical gold artifact
type SilverToGold struct {
	cfg    config.TransformConfig
	store  *files.Manager
	logger *slog.Logger
	now    func() time.Time
}

// NewSilverToGold creates a silver to gold transformer
func NewSilverToGold(cfg config.TransformConfig, store *files.Manager, logger *slog.Logger) *SilverToGold {
	if logger == nil {
		logger = slog.Default()
	}
	return &SilverToGold{
		cfg:    cfg,
		store:  store,
		logger: logger.With(slog.String("component", "silver_to_gold")),
		now:    time.Now,
	}
}

// Transform reads every silver artifact, derives the analytics and writes one
// gold artifact. The data_source of each row is taken from its artifact name.
func (t *SilverToGold) Transform(ctx context.Context, inputs []string) (Result, error) {
	metrics := domain.TransformMetrics{Layer: string(config.LayerGold), Inputs: inputs}
	if len(inputs) == 0 {
		err := apperrors.NewTransformationError("", "no silver artifacts to transform", nil, nil)
		metrics.Error = err.Error()
		return Result{Metrics: metrics}, err
	}

	t.logger.InfoContext(ctx, "gold_transform_start", slog.Int("inputs", len(inputs)))

	var combined []domain.SilverRecord
	for _, input := range inputs {
		records, err := exporter.ReadSilverFile(input)
		if err != nil {
			metrics.Error = err.Error()
			return Result{Metrics: metrics}, apperrors.NewTransformationError("", "failed to read silver artifact", nil, err).
				WithContext("artifact", input)
		}
		if source, err := files.SourceFromArtifact(input); err == nil {
			for i := range records {
				records[i].DataSource = string(source)
			}
		}
		combined = append(combined, records...)
	}
	metrics.RowsIn = len(combined)

	var warnings []string
	if overlaps := CrossSourceOverlaps(combined); overlaps > 0 {
		w := fmt.Sprintf("gold: %d (country, indicator, date) keys are reported by more than one source and kept twice", overlaps)
		warnings = append(warnings, w)
		t.logger.WarnContext(ctx, "cross_source_overlap", slog.Int("keys", overlaps))
	}

	gold := Enrich(combined)
	if err := ctx.Err(); err != nil {
		return Result{Metrics: metrics}, err
	}

	ts := t.now()
	path, err := t.store.WriteAtomic(config.LayerGold, files.GoldName(ts), func(w io.Writer) error {
		return exporter.WriteGoldCSV(w, gold)
	})
	if err != nil {
		metrics.Error = err.Error()
		return Result{Metrics: metrics}, apperrors.NewTransformationError("", "failed to persist gold artifact", nil, err)
	}
	metrics.Output = path
	metrics.RowsOut = len(gold)
	result := Result{Path: path, Metrics: metrics, Warnings: warnings}

	if t.cfg.ExportWorkbook {
		workbook, err := t.store.WriteAtomic(config.LayerGold, files.WorkbookName(ts), func(w io.Writer) error {
			return exporter.WriteGoldWorkbook(w, gold)
		})
		if err != nil {
			// the CSV is the artifact of record; a missing workbook only warns
			result.Warnings = append(result.Warnings, fmt.Sprintf("gold: workbook export failed: %v", err))
			t.logger.WarnContext(ctx, "workbook_export_failed", slog.String("error", err.Error()))
		} else {
			result.Extra = append(result.Extra, workbook)
		}
	}

	anomalies := 0
	for _, g := range gold {
		if g.IsAnomaly {
			anomalies++
		}
	}
	t.logger.InfoContext(ctx, "gold_transform_complete",
		slog.String("artifact", path),
		slog.Int("rows_in", metrics.RowsIn),
		slog.Int("rows_out", metrics.RowsOut),
		slog.Int("anomalies", anomalies))

	return result, nil
}

// CrossSourceOverlaps counts (country, indicator, date) keys present in more
// than one source
func CrossSourceOverlaps(records []domain.SilverRecord) int {
	type key struct {
		country, indicator string
		date               time.Time
	}
	sources := make(map[key]map[string]struct{})
	for _, r := range records {
		k := key{r.Country, r.Indicator, r.Date}
		if sources[k] == nil {
			sources[k] = make(map[string]struct{})
		}
		sources[k][r.DataSource] = struct{}{}
	}
	overlaps := 0
	for _, s := range sources {
		if len(s) > 1 {
			overlaps++
		}
	}
	return overlaps
}

// Enrich computes the gold analytics. Records are grouped by (country,
// indicator) and ordered by date within each group; ties keep input order.
// The input slice is not modified.
func Enrich(records []domain.SilverRecord) []domain.GoldRecord {
	ordered := append([]domain.SilverRecord(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Indicator != b.Indicator {
			return a.Indicator < b.Indicator
		}
		return a.Date.Before(b.Date)
	})

	out := make([]domain.GoldRecord, 0, len(ordered))
	for start := 0; start < len(ordered); {
		end := start + 1
		for end < len(ordered) && ordered[end].Series() == ordered[start].Series() {
			end++
		}
		out = append(out, enrichSeries(ordered[start:end])...)
		start = end
	}
	return out
}

func enrichSeries(series []domain.SilverRecord) []domain.GoldRecord {
	values := make([]float64, len(series))
	for i, r := range series {
		values[i] = r.Value
	}
	mean, std, ok := seriesMoments(values)

	out := make([]domain.GoldRecord, len(series))
	for i, r := range series {
		g := domain.GoldRecord{SilverRecord: r}

		if i >= YoYPeriods {
			if prev := values[i-YoYPeriods]; prev != 0 {
				yoy := values[i]/prev - 1
				g.YoYChange = &yoy
			}
		}

		if i >= MovingAverageWindow-1 {
			var sum float64
			for _, v := range values[i-MovingAverageWindow+1 : i+1] {
				sum += v
			}
			ma := sum / MovingAverageWindow
			g.MovingAverage = &ma
		}

		if ok {
			z := (values[i] - mean) / std
			g.ZScore = &z
		}

		g.GrowthCategory = domain.CategorizeGrowth(g.YoYChange)
		g.IsAnomaly = domain.IsAnomaly(g.ZScore)
		out[i] = g
	}
	return out
}

// seriesMoments returns the mean and sample standard deviation of values.
// ok is false when fewer than two distinct values make the z-score undefined.
func seriesMoments(values []float64) (mean, std float64, ok bool) {
	if len(values) < 2 {
		return 0, 0, false
	}
	distinct := false
	for _, v := range values[1:] {
		if v != values[0] {
			distinct = true
			break
		}
	}
	if !distinct {
		return 0, 0, false
	}

	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	std = math.Sqrt(ss / float64(len(values)-1))
	return mean, std, std > 0
}
