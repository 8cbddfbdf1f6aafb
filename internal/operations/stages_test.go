package operations_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/extractors"
	"econetl/internal/operations"
	"econetl/internal/transform"
	"econetl/pkg/contracts/domain"
)

type fakeExtractor struct {
	source domain.Source
	path   string
	err    error
	delay  time.Duration
}

func (f *fakeExtractor) Source() domain.Source { return f.source }

func (f *fakeExtractor) Extract(ctx context.Context, _ extractors.Params) (extractors.Artifact, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return extractors.Artifact{}, ctx.Err()
		}
	}
	m := domain.ExtractMetrics{Source: f.source, Requests: 1}
	if f.err != nil {
		m.FailedAttempts = 1
		return extractors.Artifact{Metrics: m}, f.err
	}
	m.RecordsExtracted = 10
	return extractors.Artifact{Source: f.source, Path: f.path, Records: 10, Metrics: m}, nil
}

type fakeTransformer struct {
	mu      sync.Mutex
	calls   [][]string
	fail    map[string]error
	rowsIn  int
	rowsOut int
	layer   string
	out     string
}

func (f *fakeTransformer) Transform(_ context.Context, inputs []string) (transform.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inputs)
	f.mu.Unlock()

	m := domain.TransformMetrics{Layer: f.layer, Inputs: inputs, RowsIn: f.rowsIn, RowsOut: f.rowsOut}
	for _, in := range inputs {
		if err, ok := f.fail[in]; ok {
			m.Error = err.Error()
			return transform.Result{Metrics: m}, err
		}
	}
	out := f.out
	if out == "" {
		out = inputs[0] + ".out"
	}
	m.Output = out
	return transform.Result{Path: out, Metrics: m, Warnings: []string{"warn " + out}}, nil
}

type fakeLoader struct {
	loaded []string
	err    error
}

func (f *fakeLoader) Load(_ context.Context, artifact string) (domain.LoadMetrics, error) {
	f.loaded = append(f.loaded, artifact)
	return domain.LoadMetrics{
		Artifact:      artifact,
		TargetTable:   "economic_indicators",
		Batches:       2,
		BatchesFailed: 1,
		RowsLoaded:    15,
		Conflicts:     []string{"batch 2 of " + artifact},
	}, f.err
}

func newCollector() *operations.Collector {
	return operations.NewCollector(time.Now(), nil)
}

func TestExtractStageIsolatesFailingSources(t *testing.T) {
	sink := newCollector()
	stage := operations.NewExtractStage([]extractors.Extractor{
		&fakeExtractor{source: domain.SourceWorldBank, path: "/bronze/worldbank_raw_1.json"},
		&fakeExtractor{source: domain.SourceIMF, err: apperrors.NewExtractionError("imf", "503", nil, true)},
	}, extractors.Params{}, 2, sink, discardLogger())

	state := operations.NewOperationState("run")
	require.NoError(t, stage.Validate(state))
	require.NoError(t, stage.Execute(context.Background(), state))

	assert.Equal(t, []string{"/bronze/worldbank_raw_1.json"}, state.Manifest.Files(operations.DataTypeBronze))
	assert.Equal(t, []domain.Source{domain.SourceIMF}, state.FailedSources())

	report := sink.Report("run", time.Now())
	require.Len(t, report.ExtractMetrics, 2)
	assert.Equal(t, domain.SourceIMF, report.ExtractMetrics[0].Source)
	assert.NotEmpty(t, report.ExtractMetrics[0].Error)
	assert.Empty(t, report.ExtractMetrics[1].Error)
	require.Len(t, report.Metrics.Errors, 1)
	assert.Contains(t, report.Metrics.Errors[0], "extract imf")
}

func TestExtractStageFailsWhenEverySourceFails(t *testing.T) {
	stage := operations.NewExtractStage([]extractors.Extractor{
		&fakeExtractor{source: domain.SourceWorldBank, err: errors.New("down")},
		&fakeExtractor{source: domain.SourceIMF, err: errors.New("down")},
	}, extractors.Params{}, 1, newCollector(), discardLogger())

	state := operations.NewOperationState("run")
	err := stage.Execute(context.Background(), state)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeExtraction))
	assert.Len(t, state.FailedSources(), 2)
	assert.False(t, state.Manifest.HasData(operations.DataTypeBronze))
}

func TestExtractStageRequiresExtractors(t *testing.T) {
	stage := operations.NewExtractStage(nil, extractors.Params{}, 1, newCollector(), discardLogger())
	err := stage.Validate(operations.NewOperationState("run"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))
}

func TestExtractStageRunsSourcesConcurrently(t *testing.T) {
	stage := operations.NewExtractStage([]extractors.Extractor{
		&fakeExtractor{source: domain.SourceWorldBank, path: "wb.json", delay: 150 * time.Millisecond},
		&fakeExtractor{source: domain.SourceIMF, path: "imf.json", delay: 150 * time.Millisecond},
	}, extractors.Params{}, 2, newCollector(), discardLogger())

	start := time.Now()
	require.NoError(t, stage.Execute(context.Background(), operations.NewOperationState("run")))
	assert.Less(t, time.Since(start), 280*time.Millisecond)
}

func TestSilverStageRecordsQualityAndExcludesFailures(t *testing.T) {
	wb := "/bronze/worldbank_raw_20240101_000000.json"
	imf := "/bronze/imf_raw_20240101_000000.json"

	sink := newCollector()
	tr := &fakeTransformer{
		layer:   "silver",
		rowsIn:  10,
		rowsOut: 8,
		fail:    map[string]error{imf: apperrors.NewDataValidationError("imf", "strict null check failed")},
	}
	stage := operations.NewSilverStage(tr, 2, sink, discardLogger())

	state := operations.NewOperationState("run")
	state.Manifest.AddData(operations.DataTypeBronze, operations.StageIDExtract, []string{imf, wb})
	require.True(t, stage.CanRun(state.Manifest))
	require.NoError(t, stage.Execute(context.Background(), state))

	assert.Equal(t, []string{wb + ".out"}, state.Manifest.Files(operations.DataTypeSilver))
	assert.Equal(t, []domain.Source{domain.SourceIMF}, state.FailedSources())

	// one transformer call per artifact
	assert.Len(t, tr.calls, 2)

	report := sink.Report("run", time.Now())
	assert.InDelta(t, 0.8, report.Metrics.DataQualityScores["worldbank"], 1e-9)
	assert.NotContains(t, report.Metrics.DataQualityScores, "imf")
	assert.Equal(t, []string{"warn " + wb + ".out"}, report.Metrics.Warnings)
	require.Len(t, report.Metrics.Errors, 1)
	assert.Contains(t, report.Metrics.Errors[0], "silver imf_raw")
}

func TestSilverStageCannotRunWithoutBronze(t *testing.T) {
	stage := operations.NewSilverStage(&fakeTransformer{}, 1, newCollector(), discardLogger())
	assert.False(t, stage.CanRun(operations.NewPipelineManifest("run")))
	assert.Equal(t, []string{operations.StageIDExtract}, stage.GetDependencies())
}

func TestGoldStageGate(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		failed     []domain.Source
		ratio      float64
		wantErr    bool
	}{
		{"no failures", 2, nil, 0.5, false},
		{"half failed at the threshold", 2, []domain.Source{domain.SourceIMF}, 0.5, false},
		{"half failed with zero tolerance", 2, []domain.Source{domain.SourceIMF}, 0, true},
		{"all failed", 2, []domain.Source{domain.SourceIMF, domain.SourceWorldBank}, 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := operations.NewGoldStage(&fakeTransformer{}, tt.configured, tt.ratio, newCollector(), discardLogger())
			state := operations.NewOperationState("run")
			for _, s := range tt.failed {
				state.AddFailedSource(s)
			}

			err := stage.Validate(state)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDataValidation))
			assert.Contains(t, err.Error(), "imf")
		})
	}
}

func TestGoldStageWritesOneArtifact(t *testing.T) {
	sink := newCollector()
	tr := &fakeTransformer{layer: "gold", rowsIn: 12, rowsOut: 12, out: "/gold/economic_indicators_gold_1.csv"}
	stage := operations.NewGoldStage(tr, 2, 0.5, sink, discardLogger())

	state := operations.NewOperationState("run")
	state.Manifest.AddData(operations.DataTypeSilver, operations.StageIDSilver, []string{"a.csv", "b.csv"})
	require.NoError(t, stage.Execute(context.Background(), state))

	require.Len(t, tr.calls, 1)
	assert.Equal(t, []string{"a.csv", "b.csv"}, tr.calls[0])
	assert.Equal(t, []string{tr.out}, state.Manifest.Files(operations.DataTypeGold))

	gold, ok := state.GetContext(operations.ContextKeyGoldArtifact)
	require.True(t, ok)
	assert.Equal(t, tr.out, gold)
	assert.Equal(t, 12, sink.Report("run", time.Now()).Metrics.RecordsProcessed)
}

func TestLoadStageLoadsGold(t *testing.T) {
	sink := newCollector()
	loader := &fakeLoader{}
	stage := operations.NewLoadStage(loader, config.LayerGold, sink, discardLogger())

	state := operations.NewOperationState("run")
	state.Manifest.AddData(operations.DataTypeSilver, operations.StageIDSilver, []string{"s1.csv"})
	state.Manifest.AddData(operations.DataTypeGold, operations.StageIDGold, []string{"g.csv"})
	require.True(t, stage.CanRun(state.Manifest))
	require.NoError(t, stage.Execute(context.Background(), state))

	assert.Equal(t, []string{"g.csv"}, loader.loaded)
	report := sink.Report("run", time.Now())
	require.NotNil(t, report.LoadMetrics)
	assert.Equal(t, 15, report.LoadMetrics.RowsLoaded)
	assert.Equal(t, []string{"load: batch 2 of g.csv"}, report.Metrics.Warnings)
}

func TestLoadStageMergesSilverArtifacts(t *testing.T) {
	sink := newCollector()
	loader := &fakeLoader{}
	stage := operations.NewLoadStage(loader, config.LayerSilver, sink, discardLogger())

	state := operations.NewOperationState("run")
	state.Manifest.AddData(operations.DataTypeSilver, operations.StageIDSilver, []string{"s1.csv", "s2.csv"})
	require.NoError(t, stage.Execute(context.Background(), state))

	assert.Equal(t, []string{"s1.csv", "s2.csv"}, loader.loaded)
	v, ok := state.GetContext(operations.ContextKeyLoadMetrics)
	require.True(t, ok)
	m := v.(domain.LoadMetrics)
	assert.Equal(t, 30, m.RowsLoaded)
	assert.Equal(t, 4, m.Batches)
	assert.Equal(t, 2, m.BatchesFailed)
	assert.Equal(t, "s1.csv,s2.csv", m.Artifact)
	assert.Len(t, m.Conflicts, 2)
}

func TestLoadStagePropagatesLoaderFailure(t *testing.T) {
	loader := &fakeLoader{err: apperrors.NewDataLoadError("connection reset", nil)}
	stage := operations.NewLoadStage(loader, config.LayerGold, newCollector(), discardLogger())

	state := operations.NewOperationState("run")
	state.Manifest.AddData(operations.DataTypeGold, operations.StageIDGold, []string{"g.csv"})
	err := stage.Execute(context.Background(), state)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDataLoad))
}

func TestCollectorReportOrdering(t *testing.T) {
	c := newCollector()
	c.RecordTransform(domain.TransformMetrics{Layer: "gold"})
	c.RecordTransform(domain.TransformMetrics{Layer: "silver", Source: "worldbank"})
	c.RecordTransform(domain.TransformMetrics{Layer: "silver", Source: "imf"})
	c.RecordExtract(domain.ExtractMetrics{Source: domain.SourceWorldBank})
	c.RecordExtract(domain.ExtractMetrics{Source: domain.SourceIMF})

	report := c.Report("run", time.Now())
	var layers []string
	for _, m := range report.TransformMetrics {
		layers = append(layers, m.Layer+":"+m.Source)
	}
	assert.Equal(t, []string{"silver:imf", "silver:worldbank", "gold:"}, layers)
	assert.True(t, sort.SliceIsSorted(report.ExtractMetrics, func(i, j int) bool {
		return report.ExtractMetrics[i].Source < report.ExtractMetrics[j].Source
	}))
	assert.NotNil(t, report.MissingSources)
	assert.Nil(t, report.LoadMetrics)

	// the report is a snapshot
	report.Metrics.DataQualityScores["x"] = 1
	c.AddError("later")
	assert.Empty(t, report.Metrics.Errors)
	assert.NotContains(t, c.Report("run", time.Now()).Metrics.DataQualityScores, "x")
}

func TestPipelineStatus(t *testing.T) {
	assert.Equal(t, domain.PipelineStatusSuccess, operations.PipelineStatus(nil, false, nil, nil))
	assert.Equal(t, domain.PipelineStatusPartialSuccess,
		operations.PipelineStatus(nil, false, []domain.Source{domain.SourceIMF}, nil))
	assert.Equal(t, domain.PipelineStatusPartialSuccess,
		operations.PipelineStatus(nil, false, nil, []string{"silver imf: bad"}))
	assert.Equal(t, domain.PipelineStatusFailed,
		operations.PipelineStatus(errors.New("x"), false, nil, nil))
	assert.Equal(t, domain.PipelineStatusFailed,
		operations.PipelineStatus(nil, true, nil, nil), "a failed stage fails the run even when errors were tolerated")
}

func TestRunStore(t *testing.T) {
	s := operations.NewRunStore(2)

	_, ok := s.Latest()
	assert.False(t, ok)

	require.NoError(t, s.Begin("r1"))
	assert.ErrorIs(t, s.Begin("r2"), operations.ErrRunInProgress)
	active, ok := s.Active()
	assert.True(t, ok)
	assert.Equal(t, "r1", active)

	s.Finish("r1", &domain.ExecutionReport{RunID: "r1"})
	_, ok = s.Active()
	assert.False(t, ok)

	for _, id := range []string{"r2", "r3"} {
		require.NoError(t, s.Begin(id))
		s.Finish(id, &domain.ExecutionReport{RunID: id})
	}

	_, ok = s.Get("r1")
	assert.False(t, ok, "oldest report is evicted")
	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, "r3", latest.RunID)
}
