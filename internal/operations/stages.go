package operations

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/extractors"
	"econetl/internal/files"
	"econetl/internal/transform"
	"econetl/pkg/contracts/domain"
)

// ExtractStage runs every configured extractor on a bounded pool. A failing
// extractor is recorded and excluded; the stage fails only when none succeed.
type ExtractStage struct {
	BaseStage
	extractors []extractors.Extractor
	params     extractors.Params
	workers    int
	sink       MetricsSink
	logger     *slog.Logger
}

// NewExtractStage creates the extraction step
func NewExtractStage(exs []extractors.Extractor, params extractors.Params, workers int, sink MetricsSink, logger *slog.Logger) *ExtractStage {
	if workers < 1 {
		workers = len(exs)
	}
	return &ExtractStage{
		BaseStage: NewBaseStage(StageIDExtract, StageNameExtract, nil).
			WithData(nil, []DataOutput{{Type: DataTypeBronze, Pattern: "*.json"}}),
		extractors: exs,
		params:     params,
		workers:    workers,
		sink:       sink,
		logger:     stageLogger(logger, StageIDExtract),
	}
}

// Validate requires at least one extractor
func (s *ExtractStage) Validate(state *OperationState) error {
	if len(s.extractors) == 0 {
		return apperrors.NewConfigurationError("no extractors configured", nil)
	}
	return nil
}

// Execute extracts every source concurrently
func (s *ExtractStage) Execute(ctx context.Context, state *OperationState) error {
	var (
		mu        sync.Mutex
		artifacts []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, ex := range s.extractors {
		ex := ex
		g.Go(func() error {
			artifact, err := ex.Extract(gctx, s.params)
			m := artifact.Metrics
			if m.Source == "" {
				m.Source = ex.Source()
			}
			if err != nil {
				m.Error = err.Error()
				s.sink.RecordExtract(m)
				s.sink.AddError(fmt.Sprintf("extract %s: %v", ex.Source(), err))
				state.AddFailedSource(ex.Source())
				s.logger.ErrorContext(ctx, "source_extraction_failed",
					slog.String("source", ex.Source().String()),
					slog.String("error", err.Error()))
				// failures stay isolated to their source
				return nil
			}
			s.sink.RecordExtract(m)

			mu.Lock()
			artifacts = append(artifacts, artifact.Path)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(artifacts) == 0 {
		return apperrors.NewExtractionError("", "every source failed to extract", nil, false)
	}

	sort.Strings(artifacts)
	state.Manifest.AddData(DataTypeBronze, s.ID(), artifacts)
	s.logger.InfoContext(ctx, "extract_stage_complete",
		slog.Int("artifacts", len(artifacts)),
		slog.Int("failed_sources", len(state.FailedSources())))
	return nil
}

// SilverStage cleans every bronze artifact concurrently, one silver artifact each
type SilverStage struct {
	BaseStage
	transformer transform.Transformer
	workers     int
	sink        MetricsSink
	logger      *slog.Logger
}

// NewSilverStage creates the bronze to silver step
func NewSilverStage(t transform.Transformer, workers int, sink MetricsSink, logger *slog.Logger) *SilverStage {
	if workers < 1 {
		workers = 1
	}
	return &SilverStage{
		BaseStage: NewBaseStage(StageIDSilver, StageNameSilver, []string{StageIDExtract}).
			WithData(
				[]DataRequirement{{Type: DataTypeBronze, MinCount: 1}},
				[]DataOutput{{Type: DataTypeSilver, Pattern: "*_silver_*.csv"}},
			),
		transformer: t,
		workers:     workers,
		sink:        sink,
		logger:      stageLogger(logger, StageIDSilver),
	}
}

// Execute transforms each bronze artifact; a failing artifact excludes its source
func (s *SilverStage) Execute(ctx context.Context, state *OperationState) error {
	inputs := state.Manifest.Files(DataTypeBronze)

	var (
		mu      sync.Mutex
		outputs []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, input := range inputs {
		input := input
		g.Go(func() error {
			source, _ := files.SourceFromArtifact(input)
			result, err := s.transformer.Transform(gctx, []string{input})
			if result.Metrics.Source == "" {
				result.Metrics.Source = source.String()
			}
			s.sink.RecordTransform(result.Metrics)

			if err != nil {
				s.sink.AddError(fmt.Sprintf("silver %s: %v", filepath.Base(input), err))
				if source != "" {
					state.AddFailedSource(source)
				}
				s.logger.ErrorContext(ctx, "silver_artifact_failed",
					slog.String("artifact", input),
					slog.String("error", err.Error()))
				return nil
			}

			for _, w := range result.Warnings {
				s.sink.AddWarning(w)
			}
			if result.Metrics.RowsIn > 0 {
				s.sink.SetQuality(result.Metrics.Source, float64(result.Metrics.RowsOut)/float64(result.Metrics.RowsIn))
			} else {
				s.sink.SetQuality(result.Metrics.Source, 0)
			}

			mu.Lock()
			outputs = append(outputs, result.Path)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(outputs) == 0 {
		return apperrors.NewTransformationError("", "no usable silver artifacts were produced", nil, nil)
	}

	sort.Strings(outputs)
	state.Manifest.AddData(DataTypeSilver, s.ID(), outputs)
	return nil
}

// GoldStage joins the silver artifacts into one gold artifact. It refuses to
// run when too large a share of the configured sources failed.
type GoldStage struct {
	BaseStage
	transformer       transform.Transformer
	configuredSources int
	maxFailedRatio    float64
	sink              MetricsSink
	logger            *slog.Logger
}

// NewGoldStage creates the silver to gold step
func NewGoldStage(t transform.Transformer, configuredSources int, maxFailedRatio float64, sink MetricsSink, logger *slog.Logger) *GoldStage {
	return &GoldStage{
		BaseStage: NewBaseStage(StageIDGold, StageNameGold, []string{StageIDSilver}).
			WithData(
				[]DataRequirement{{Type: DataTypeSilver, MinCount: 1}},
				[]DataOutput{{Type: DataTypeGold, Pattern: files.GoldPrefix + "_*.csv"}},
			),
		transformer:       t,
		configuredSources: configuredSources,
		maxFailedRatio:    maxFailedRatio,
		sink:              sink,
		logger:            stageLogger(logger, StageIDGold),
	}
}

// Validate applies the failed-source gate
func (s *GoldStage) Validate(state *OperationState) error {
	if s.configuredSources == 0 {
		return nil
	}
	failed := state.FailedSources()
	ratio := float64(len(failed)) / float64(s.configuredSources)
	if ratio > s.maxFailedRatio {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = f.String()
		}
		return apperrors.NewDataValidationError("",
			fmt.Sprintf("%d of %d sources failed, above the allowed ratio %.2f", len(failed), s.configuredSources, s.maxFailedRatio),
			strings.Join(names, ", "))
	}
	return nil
}

// Execute writes the gold artifact
func (s *GoldStage) Execute(ctx context.Context, state *OperationState) error {
	result, err := s.transformer.Transform(ctx, state.Manifest.Files(DataTypeSilver))
	s.sink.RecordTransform(result.Metrics)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		s.sink.AddWarning(w)
	}
	s.sink.AddProcessed(result.Metrics.RowsOut)

	state.Manifest.AddData(DataTypeGold, s.ID(), []string{result.Path})
	state.SetContext(ContextKeyGoldArtifact, result.Path)
	return nil
}

// Loader writes a layer artifact to the warehouse
type Loader interface {
	Load(ctx context.Context, artifact string) (domain.LoadMetrics, error)
}

// LoadStage loads the gold artifact, or every silver artifact when the
// warehouse is configured to load the silver layer
type LoadStage struct {
	BaseStage
	loader Loader
	layer  config.Layer
	sink   MetricsSink
	logger *slog.Logger
}

// NewLoadStage creates the warehouse load step
func NewLoadStage(loader Loader, layer config.Layer, sink MetricsSink, logger *slog.Logger) *LoadStage {
	input := DataTypeGold
	if layer == config.LayerSilver {
		input = DataTypeSilver
	}
	return &LoadStage{
		BaseStage: NewBaseStage(StageIDLoad, StageNameLoad, []string{StageIDGold}).
			WithData([]DataRequirement{{Type: input, MinCount: 1}}, nil),
		loader: loader,
		layer:  layer,
		sink:   sink,
		logger: stageLogger(logger, StageIDLoad),
	}
}

// Execute loads the artifacts sequentially, one transaction per batch
func (s *LoadStage) Execute(ctx context.Context, state *OperationState) error {
	input := DataTypeGold
	if s.layer == config.LayerSilver {
		input = DataTypeSilver
	}

	var total domain.LoadMetrics
	var loadErr error
	for i, artifact := range state.Manifest.Files(input) {
		m, err := s.loader.Load(ctx, artifact)
		total = mergeLoadMetrics(total, m, i == 0)
		if err != nil {
			loadErr = err
			break
		}
	}

	s.sink.RecordLoad(total)
	for _, c := range total.Conflicts {
		s.sink.AddWarning("load: " + c)
	}
	state.SetContext(ContextKeyLoadMetrics, total)
	return loadErr
}

func mergeLoadMetrics(total, m domain.LoadMetrics, first bool) domain.LoadMetrics {
	if first {
		return m
	}
	total.Artifact += "," + m.Artifact
	total.Batches += m.Batches
	total.BatchesFailed += m.BatchesFailed
	total.RowsLoaded += m.RowsLoaded
	total.RowsSkipped += m.RowsSkipped
	total.Conflicts = append(total.Conflicts, m.Conflicts...)
	return total
}

func stageLogger(logger *slog.Logger, stageID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("stage", stageID))
}
