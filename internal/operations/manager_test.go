package operations_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "econetl/internal/errors"
	"econetl/internal/operations"
	"econetl/internal/operations/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func fastConfig() *operations.Config {
	return operations.NewConfigBuilder().
		WithRetryConfig(operations.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		}).
		Build()
}

func newManager(t *testing.T, cfg *operations.Config, steps ...operations.Step) *operations.Manager {
	t.Helper()
	m := operations.NewManager(nil, cfg, discardLogger())
	for _, s := range steps {
		require.NoError(t, m.RegisterStage(s))
	}
	return m
}

func TestManagerRunsStepsInDependencyOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	mk := func(id string, deps ...string) *testutil.MockStage {
		s := testutil.NewMockStage(id, deps...)
		s.ExecuteFunc = func(context.Context, *operations.OperationState) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		}
		return s
	}

	m := newManager(t, fastConfig(), mk("gold", "silver"), mk("extract"), mk("silver", "extract"))
	resp, state, err := m.Execute(context.Background(), operations.OperationRequest{ID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"extract", "silver", "gold"}, order)
	assert.Equal(t, []string{"extract", "silver", "gold"}, resp.Order)
	assert.Equal(t, operations.OperationStatusCompleted, resp.Status)
	assert.Empty(t, resp.Error)
	for _, id := range order {
		assert.Equal(t, operations.StepStatusCompleted, state.GetStage(id).GetStatus())
	}
	_, err = m.GetOperation("run-1")
	assert.Error(t, err, "finished operations are no longer tracked")
}

func TestManagerExposesRunningOperation(t *testing.T) {
	var (
		m    *operations.Manager
		seen operations.StepStatus
	)
	extract := testutil.NewMockStage("extract")
	silver := testutil.NewMockStage("silver", "extract")
	silver.ExecuteFunc = func(context.Context, *operations.OperationState) error {
		live, err := m.GetOperation("run-live")
		if err != nil {
			return err
		}
		seen = live.GetStage("extract").GetStatus()
		return nil
	}
	m = newManager(t, fastConfig(), extract, silver)

	_, _, err := m.Execute(context.Background(), operations.OperationRequest{ID: "run-live"})
	require.NoError(t, err)
	assert.Equal(t, operations.StepStatusCompleted, seen)
}

func TestManagerPassesRequestParameters(t *testing.T) {
	s := testutil.NewMockStage("a")
	var got interface{}
	s.ExecuteFunc = func(_ context.Context, st *operations.OperationState) error {
		got, _ = st.GetConfig("countries")
		return nil
	}
	m := newManager(t, fastConfig(), s)

	_, _, err := m.Execute(context.Background(), operations.OperationRequest{
		Parameters: map[string]interface{}{"countries": "US"},
	})
	require.NoError(t, err)
	assert.Equal(t, "US", got)
}

func TestManagerSkipsDependentsOfFailedStep(t *testing.T) {
	boom := errors.New("boom")
	extract := testutil.NewMockStage("extract")
	silver := testutil.FailingStage("silver", boom, "extract")
	gold := testutil.NewMockStage("gold", "silver")
	load := testutil.NewMockStage("load", "gold")

	m := newManager(t, fastConfig(), extract, silver, gold, load)
	resp, state, err := m.Execute(context.Background(), operations.OperationRequest{ID: "run-2"})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, operations.OperationStatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "boom")

	assert.Equal(t, operations.StepStatusCompleted, state.GetStage("extract").GetStatus())
	assert.Equal(t, operations.StepStatusFailed, state.GetStage("silver").GetStatus())
	assert.Equal(t, operations.StepStatusSkipped, state.GetStage("gold").GetStatus())
	assert.Equal(t, operations.StepStatusSkipped, state.GetStage("load").GetStatus())
	assert.Equal(t, 0, gold.ExecuteCalls())
	assert.Equal(t, 0, load.ExecuteCalls())

	// plain errors are not retried
	assert.Equal(t, 1, silver.ExecuteCalls())

	var opErr *operations.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "silver", opErr.Step)
}

func TestManagerContinueOnErrorRunsIndependentSteps(t *testing.T) {
	cfg := fastConfig()
	cfg.ContinueOnError = true

	failing := testutil.FailingStage("a", errors.New("nope"))
	dependent := testutil.NewMockStage("b", "a")
	independent := testutil.NewMockStage("c")

	m := newManager(t, cfg, failing, dependent, independent)
	_, state, err := m.Execute(context.Background(), operations.OperationRequest{})

	require.Error(t, err)
	assert.Equal(t, operations.StepStatusSkipped, state.GetStage("b").GetStatus())
	assert.Equal(t, operations.StepStatusCompleted, state.GetStage("c").GetStatus())
	assert.Equal(t, 1, independent.ExecuteCalls())
}

func TestManagerRetriesRetryableErrors(t *testing.T) {
	transient := apperrors.NewExtractionError("worldbank", "upstream unavailable", nil, true)
	flaky := testutil.FlakyStage("extract", 2, transient)

	m := newManager(t, fastConfig(), flaky)
	_, state, err := m.Execute(context.Background(), operations.OperationRequest{})

	require.NoError(t, err)
	assert.Equal(t, 3, flaky.ExecuteCalls())
	assert.Equal(t, 3, state.GetStage("extract").Attempts)
}

func TestManagerStopsRetryingAtMaxAttempts(t *testing.T) {
	transient := apperrors.NewExtractionError("imf", "upstream unavailable", nil, true)
	flaky := testutil.FlakyStage("extract", 10, transient)

	m := newManager(t, fastConfig(), flaky)
	_, _, err := m.Execute(context.Background(), operations.OperationRequest{})

	require.Error(t, err)
	assert.Equal(t, 3, flaky.ExecuteCalls())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeExtraction))
}

func TestManagerValidationFailureSkipsStep(t *testing.T) {
	gate := errors.New("too many sources failed")
	gold := testutil.NewMockStage("gold")
	gold.ValidateFunc = func(*operations.OperationState) error { return gate }
	load := testutil.NewMockStage("load", "gold")

	m := newManager(t, fastConfig(), gold, load)
	_, state, err := m.Execute(context.Background(), operations.OperationRequest{})

	require.Error(t, err)
	assert.ErrorIs(t, err, gate)
	assert.Equal(t, operations.ErrorTypeValidation, operations.GetErrorType(err))
	assert.Equal(t, 0, gold.ExecuteCalls())

	goldState := state.GetStage("gold")
	assert.Equal(t, operations.StepStatusSkipped, goldState.GetStatus())
	assert.Contains(t, goldState.Message, "too many sources failed")
	assert.Equal(t, operations.StepStatusSkipped, state.GetStage("load").GetStatus())

	reports := state.StageReports([]string{"gold", "load"})
	require.Len(t, reports, 2)
	assert.Contains(t, reports[0].Error, "too many sources failed")
}

func TestManagerFailsStepWithMissingInputs(t *testing.T) {
	producer := testutil.NewMockStage("extract")
	consumer := testutil.NewMockStage("silver", "extract")
	consumer.Inputs = []operations.DataRequirement{{Type: operations.DataTypeBronze, MinCount: 1}}

	m := newManager(t, fastConfig(), producer, consumer)
	_, state, err := m.Execute(context.Background(), operations.OperationRequest{})

	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeDependency, operations.GetErrorType(err))
	assert.Equal(t, operations.StepStatusFailed, state.GetStage("silver").GetStatus())
	assert.Equal(t, 0, consumer.ExecuteCalls())
}

func TestManagerPublishesOutputsToManifest(t *testing.T) {
	producer := testutil.NewMockStage("extract")
	producer.Outputs = []operations.DataOutput{{Type: operations.DataTypeBronze}}
	consumer := testutil.NewMockStage("silver", "extract")
	consumer.Inputs = []operations.DataRequirement{{Type: operations.DataTypeBronze, MinCount: 1}}

	m := newManager(t, fastConfig(), producer, consumer)
	_, state, err := m.Execute(context.Background(), operations.OperationRequest{})

	require.NoError(t, err)
	assert.Equal(t, 1, consumer.ExecuteCalls())
	assert.True(t, state.Manifest.IsStageCompleted("extract"))
	assert.Equal(t, []string{"extract." + operations.DataTypeBronze}, state.Manifest.Files(operations.DataTypeBronze))
}

func TestManagerEnforcesStageTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.SetStageTimeout("slow", 20*time.Millisecond)

	slow := testutil.NewMockStage("slow")
	slow.ExecuteFunc = func(ctx context.Context, _ *operations.OperationState) error {
		<-ctx.Done()
		return ctx.Err()
	}

	m := newManager(t, cfg, slow)
	_, state, err := m.Execute(context.Background(), operations.OperationRequest{})

	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeTimeout, operations.GetErrorType(err))
	assert.Equal(t, operations.StepStatusFailed, state.GetStage("slow").GetStatus())
	assert.Equal(t, 1, slow.ExecuteCalls())
}

func TestManagerStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := testutil.NewMockStage("a")
	first.ExecuteFunc = func(context.Context, *operations.OperationState) error {
		cancel()
		return nil
	}
	second := testutil.NewMockStage("b", "a")

	m := newManager(t, fastConfig(), first, second)
	_, _, err := m.Execute(ctx, operations.OperationRequest{})

	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeCancellation, operations.GetErrorType(err))
	assert.Equal(t, 0, second.ExecuteCalls())
}

func TestManagerRejectsCyclicRegistry(t *testing.T) {
	m := newManager(t, fastConfig(),
		testutil.NewMockStage("a", "b"),
		testutil.NewMockStage("b", "a"))

	resp, _, err := m.Execute(context.Background(), operations.OperationRequest{})
	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeFatal, operations.GetErrorType(err))
	assert.Equal(t, operations.OperationStatusFailed, resp.Status)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, operations.IsRetryable(nil))
	assert.False(t, operations.IsRetryable(errors.New("plain")))
	assert.True(t, operations.IsRetryable(operations.NewTimeoutError("x", "1s")))
	assert.False(t, operations.IsRetryable(operations.NewValidationError("x", "bad")))
	assert.True(t, operations.IsRetryable(apperrors.NewExtractionError("wb", "503", nil, true)))
	assert.False(t, operations.IsRetryable(apperrors.NewExtractionError("wb", "404", nil, false)))
}

func TestFromPipelineConfig(t *testing.T) {
	cfg := operations.NewConfigBuilder().
		WithMaxConcurrency(0).
		WithMaxFailedSourceRatio(1.5).
		Build()
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 0.5, cfg.MaxFailedSourceRatio)

	assert.Equal(t, operations.DefaultStageTimeout, cfg.GetStageTimeout("unknown"))
	cfg.SetStageTimeout("unknown", time.Minute)
	assert.Equal(t, time.Minute, cfg.GetStageTimeout("unknown"))
}
