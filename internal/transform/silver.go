package transform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/exporter"
	"econetl/internal/files"
	"econetl/internal/validation"
	"econetl/pkg/contracts/domain"
)

// NullPolicy decides what happens to a row with a null mandatory column
type NullPolicy string

const (
	NullDrop NullPolicy = "drop"
	NullKeep NullPolicy = "keep"
)

// Mandatory silver columns
const (
	ColumnCountry   = "country"
	ColumnIndicator = "indicator"
	ColumnDate      = "date"
	ColumnValue     = "value"
)

var mandatoryColumns = []string{ColumnCountry, ColumnIndicator, ColumnDate, ColumnValue}

// cleanRow is an observation after type coercion; nil marks a null cell
type cleanRow struct {
	country   *string
	indicator *string
	date      *time.Time
	value     *float64
	source    string
}

func (r cleanRow) isNull(column string) bool {
	switch column {
	case ColumnCountry:
		return r.country == nil
	case ColumnIndicator:
		return r.indicator == nil
	case ColumnDate:
		return r.date == nil
	case ColumnValue:
		return r.value == nil
	}
	return false
}

// CleanStats counts what cleaning removed
type CleanStats struct {
	RowsIn            int
	NullsDropped      int
	DuplicatesRemoved int
	ConflictsDropped  int
}

// Warnings renders the stats worth surfacing in the run report
func (s CleanStats) Warnings(source string) []string {
	var out []string
	if s.DuplicatesRemoved > 0 {
		out = append(out, fmt.Sprintf("%s: removed %d duplicate rows", source, s.DuplicatesRemoved))
	}
	if s.ConflictsDropped > 0 {
		out = append(out, fmt.Sprintf("%s: dropped %d rows sharing a key with different values", source, s.ConflictsDropped))
	}
	return out
}

// BronzeToSilver cleans bronze artifacts into silver artifacts
type BronzeToSilver struct {
	cfg       config.TransformConfig
	store     *files.Manager
	validator *validation.DataValidator
	logger    *slog.Logger
	now       func() time.Time
}

// NewBronzeToSilver creates a bronze to silver transformer
func NewBronzeToSilver(cfg config.TransformConfig, store *files.Manager, logger *slog.Logger) *BronzeToSilver {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "bronze_to_silver"))
	return &BronzeToSilver{
		cfg:       cfg,
		store:     store,
		validator: validation.NewDataValidator(logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Transform cleans exactly one bronze artifact and writes one silver artifact
func (t *BronzeToSilver) Transform(ctx context.Context, inputs []string) (Result, error) {
	if len(inputs) != 1 {
		return Result{}, apperrors.NewTransformationError("", fmt.Sprintf("expected one bronze artifact, got %d", len(inputs)), nil, nil)
	}
	input := inputs[0]

	var bronze domain.BronzeArtifact
	if err := files.ReadJSON(input, &bronze); err != nil {
		return Result{}, apperrors.NewTransformationError("", "failed to read bronze artifact", nil, err).
			WithContext("artifact", input)
	}
	source := string(bronze.Source)
	if source == "" {
		if s, err := files.SourceFromArtifact(input); err == nil {
			source = string(s)
			bronze.Source = s
		}
	}

	t.logger.InfoContext(ctx, "silver_transform_start",
		slog.String("source", source),
		slog.String("artifact", input),
		slog.Int("rows_in", len(bronze.Observations)))

	records, stats, err := t.Clean(bronze)
	metrics := domain.TransformMetrics{
		Layer:             string(config.LayerSilver),
		Source:            source,
		Inputs:            inputs,
		RowsIn:            stats.RowsIn,
		NullsDropped:      stats.NullsDropped,
		DuplicatesRemoved: stats.DuplicatesRemoved,
		ConflictsDropped:  stats.ConflictsDropped,
	}
	if err != nil {
		metrics.Error = err.Error()
		return Result{Metrics: metrics}, err
	}

	warnings := stats.Warnings(source)
	for _, w := range warnings {
		t.logger.WarnContext(ctx, "silver_rows_removed", slog.String("source", source), slog.String("detail", w))
	}

	if err := ctx.Err(); err != nil {
		return Result{Metrics: metrics}, err
	}

	path, err := t.store.WriteAtomic(config.LayerSilver, files.SilverName(bronze.Source, t.now()), func(w io.Writer) error {
		return exporter.WriteSilverCSV(w, records)
	})
	if err != nil {
		metrics.Error = err.Error()
		return Result{Metrics: metrics}, apperrors.NewTransformationError(source, "failed to persist silver artifact", nil, err)
	}
	metrics.Output = path
	metrics.RowsOut = len(records)

	t.logger.InfoContext(ctx, "silver_transform_complete",
		slog.String("source", source),
		slog.String("artifact", path),
		slog.Int("rows_in", metrics.RowsIn),
		slog.Int("rows_out", metrics.RowsOut),
		slog.Int("nulls_dropped", metrics.NullsDropped),
		slog.Int("duplicates_removed", metrics.DuplicatesRemoved),
		slog.Int("conflicts_dropped", metrics.ConflictsDropped))

	return Result{Path: path, Metrics: metrics, Warnings: warnings}, nil
}

// Clean runs the cleaning pipeline over one bronze artifact. It is pure: the
// same artifact always yields the same records in the same order.
func (t *BronzeToSilver) Clean(bronze domain.BronzeArtifact) ([]domain.SilverRecord, CleanStats, error) {
	stats := CleanStats{RowsIn: len(bronze.Observations)}
	source := string(bronze.Source)

	rows := t.coerce(bronze)
	rows, stats.NullsDropped = t.handleNulls(rows)
	rows, stats.DuplicatesRemoved = dedupe(rows)

	if err := t.validate(source, rows); err != nil {
		return nil, stats, err
	}

	records := make([]domain.SilverRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, domain.SilverRecord{
			Country:    *r.country,
			Indicator:  *r.indicator,
			Date:       *r.date,
			Year:       r.date.Year(),
			Quarter:    QuarterOf(*r.date),
			Value:      *r.value,
			DataSource: r.source,
		})
	}
	sortSilver(records)
	records, stats.ConflictsDropped = dropKeyConflicts(records)
	return records, stats, nil
}

// coerce trims strings, parses period labels and rounds values
func (t *BronzeToSilver) coerce(bronze domain.BronzeArtifact) []cleanRow {
	rows := make([]cleanRow, 0, len(bronze.Observations))
	for _, o := range bronze.Observations {
		src := o.Source
		if src == "" {
			src = bronze.Source
		}
		r := cleanRow{
			country:   trimmed(strings.ToUpper(o.Country)),
			indicator: trimmed(o.Indicator),
			source:    string(src),
		}
		if d, ok := ParsePeriod(o.Date, t.cfg.DateFormat); ok {
			r.date = &d
		}
		if o.Value != nil && !math.IsNaN(*o.Value) && !math.IsInf(*o.Value, 0) {
			v := decimal.NewFromFloat(*o.Value).Round(int32(t.cfg.ValuePrecision)).InexactFloat64()
			r.value = &v
		}
		rows = append(rows, r)
	}
	return rows
}

func (t *BronzeToSilver) policy(column string) NullPolicy {
	if p, ok := t.cfg.NullPolicies[column]; ok {
		return NullPolicy(strings.ToLower(p))
	}
	if t.cfg.DropNullValues {
		return NullDrop
	}
	return NullKeep
}

// handleNulls drops rows with a null column whose policy is drop
func (t *BronzeToSilver) handleNulls(rows []cleanRow) ([]cleanRow, int) {
	var dropColumns []string
	for _, c := range mandatoryColumns {
		if t.policy(c) == NullDrop {
			dropColumns = append(dropColumns, c)
		}
	}

	kept := rows[:0:0]
	dropped := 0
	for _, r := range rows {
		drop := false
		for _, c := range dropColumns {
			if r.isNull(c) {
				drop = true
				break
			}
		}
		if drop {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

type rowIdentity struct {
	country, indicator, date, source string
	value                            float64
	hasValue                         bool
}

func identity(r cleanRow) rowIdentity {
	id := rowIdentity{source: r.source}
	if r.country != nil {
		id.country = *r.country
	}
	if r.indicator != nil {
		id.indicator = *r.indicator
	}
	if r.date != nil {
		id.date = r.date.Format(domain.DateLayout)
	}
	if r.value != nil {
		id.value, id.hasValue = *r.value, true
	}
	return id
}

// dedupe removes exact duplicate rows, keeping the first occurrence
func dedupe(rows []cleanRow) ([]cleanRow, int) {
	seen := make(map[rowIdentity]struct{}, len(rows))
	kept := rows[:0:0]
	for _, r := range rows {
		id := identity(r)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, r)
	}
	return kept, len(rows) - len(kept)
}

func (t *BronzeToSilver) validate(source string, rows []cleanRow) error {
	table := make([]validation.Row, len(rows))
	for i, r := range rows {
		table[i] = validation.Row{
			ColumnCountry:   r.country,
			ColumnIndicator: r.indicator,
			ColumnDate:      r.date,
			ColumnValue:     r.value,
		}
	}

	rules := validation.Rules{
		ColumnCountry:   {Required: true},
		ColumnIndicator: {Required: true},
		ColumnDate: {
			Required: true,
			Min:      validation.Bound(float64(t.cfg.MinYear)),
			Max:      validation.Bound(float64(t.now().Year())),
		},
		ColumnValue: {
			Required: true,
			Min:      validation.Bound(t.cfg.ValueMin),
			Max:      validation.Bound(t.cfg.ValueMax),
		},
	}

	result := t.validator.Validate(table, rules)
	if !result.IsValid {
		return apperrors.NewTransformationError(source, "silver validation failed", result.Errors, nil)
	}
	return nil
}

func sortSilver(records []domain.SilverRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Indicator != b.Indicator {
			return a.Indicator < b.Indicator
		}
		return a.Date.Before(b.Date)
	})
}

// dropKeyConflicts keeps the first record of every key
func dropKeyConflicts(records []domain.SilverRecord) ([]domain.SilverRecord, int) {
	seen := make(map[domain.RecordKey]struct{}, len(records))
	kept := records[:0]
	for _, r := range records {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, r)
	}
	return kept, len(records) - len(kept)
}

func trimmed(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
