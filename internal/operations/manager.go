package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Manager executes registered steps in dependency order
type Manager struct {
	registry *Registry
	config   *Config
	tracer   *OperationTracer
	logger   *slog.Logger

	mu         sync.RWMutex
	operations map[string]*OperationState
}

// NewManager creates a new operation manager
func NewManager(registry *Registry, config *Config, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		registry:   registry,
		config:     config,
		logger:     logger.With(slog.String("component", "operations")),
		operations: make(map[string]*OperationState),
	}
}

// SetTracer attaches span and metric recording
func (m *Manager) SetTracer(tracer *OperationTracer) {
	m.tracer = tracer
}

// RegisterStage registers a Step with the manager
func (m *Manager) RegisterStage(step Step) error {
	return m.registry.Register(step)
}

// Execute runs every registered step for req. The response is returned even
// when err is not nil; its State carries what the steps recorded.
func (m *Manager) Execute(ctx context.Context, req OperationRequest) (*OperationResponse, *OperationState, error) {
	if req.ID == "" {
		req.ID = fmt.Sprintf("operation-%d", time.Now().UnixNano())
	}

	state := NewOperationState(req.ID)
	for k, v := range req.Parameters {
		state.SetConfig(k, v)
	}

	m.storeOperation(state)
	defer m.removeOperation(req.ID)

	steps, err := m.registry.GetDependencyOrder()
	if err != nil {
		err = NewFatalError("failed to order steps", err)
		m.logOperationError(ctx, req.ID, err)
		state.Fail(err)
		return m.createResponse(state, nil), state, err
	}

	order := make([]string, len(steps))
	for i, step := range steps {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
		order[i] = step.ID()
	}

	ctx, span := m.tracer.TraceOperation(ctx, req.ID, len(steps))

	m.logOperationStart(ctx, req.ID, len(steps))
	state.Start()

	err = m.executeSequential(ctx, state, steps)
	if err != nil {
		state.Fail(err)
		state.Manifest.RecordStageFailure(failedStep(err), err)
		m.logOperationError(ctx, req.ID, err)
	} else {
		state.Complete()
	}

	m.tracer.EndOperation(ctx, span, state.Status, err)
	m.logOperationComplete(ctx, req.ID, state.Duration(), state.Status)

	return m.createResponse(state, order), state, err
}

func failedStep(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Step
	}
	return ""
}

// executeSequential executes steps one by one
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	var firstErr error

	for _, step := range steps {
		stepState := state.GetStage(step.ID())

		if ctx.Err() != nil {
			m.logger.WarnContext(ctx, "operation_cancelled",
				slog.String("operation_id", state.ID),
				slog.String("stage", step.ID()))
			return NewCancellationError(step.ID())
		}

		if stepState.GetStatus() == StepStatusSkipped {
			continue
		}

		if err := m.checkDependencies(state, step); err != nil {
			stepState.Skip(err.Error())
			m.logStageSkipped(ctx, state.ID, step.ID(), err.Error())
			m.skipDependentStages(state, step.ID())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := m.executeStage(ctx, state, step); err != nil {
			m.logStageError(ctx, state.ID, step.ID(), err)
			if !m.config.ContinueOnError {
				m.skipDependentStages(state, step.ID())
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			m.skipDependentStages(state, step.ID())
		}
	}

	return firstErr
}

// executeStage executes a single Step with retry logic
func (m *Manager) executeStage(ctx context.Context, state *OperationState, step Step) error {
	stepState := state.GetStage(step.ID())
	if stepState == nil {
		return NewFatalError(fmt.Sprintf("step state for %s not found", step.ID()), nil)
	}

	if !step.CanRun(state.Manifest) {
		missing := MissingInput(step.RequiredInputs(), state.Manifest)
		err := NewDependencyError(step.ID(), missing, fmt.Sprintf("required input %s is not available", missing))
		stepState.Fail(err)
		return err
	}

	if err := step.Validate(state); err != nil {
		stepState.Skip(fmt.Sprintf("validation failed: %v", err))
		m.logStageSkipped(ctx, state.ID, step.ID(), err.Error())
		return &OperationError{
			Type:    ErrorTypeValidation,
			Step:    step.ID(),
			Message: "validation failed",
			Cause:   err,
		}
	}

	timeout := m.config.GetStageTimeout(step.ID())
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retryConfig := m.config.RetryConfig
	maxAttempts := retryConfig.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	state.Manifest.RecordStageStart(step.ID(), step.Name())

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stepState.Start()
		m.logStageStart(ctx, state.ID, step.ID(), attempt)

		attemptCtx, span := m.tracer.TraceStage(stageCtx, state.ID, step.ID(), attempt)
		startTime := time.Now()
		err := step.Execute(attemptCtx, state)
		duration := time.Since(startTime)
		m.tracer.EndStage(attemptCtx, span, step.ID(), duration, err)

		if err == nil {
			m.logStageComplete(ctx, state.ID, step.ID(), duration)
			stepState.Complete()
			outputs := make([]string, 0, len(step.ProducedOutputs()))
			for _, o := range step.ProducedOutputs() {
				outputs = append(outputs, o.Type)
			}
			state.Manifest.RecordStageCompletion(step.ID(), outputs)
			return nil
		}

		if stageCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = &OperationError{
				Type:    ErrorTypeTimeout,
				Step:    step.ID(),
				Message: fmt.Sprintf("step exceeded timeout of %s", timeout),
				Cause:   err,
			}
			stepState.Fail(err)
			return err
		}

		if !IsRetryable(err) || attempt >= maxAttempts {
			stepState.Fail(err)
			return WrapError(err, step.ID(), "step execution failed")
		}

		delay := m.calculateRetryDelay(attempt, retryConfig)
		m.logger.WarnContext(ctx, "stage_retry",
			slog.String("operation_id", state.ID),
			slog.String("stage", step.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-stageCtx.Done():
			timeoutErr := NewTimeoutError(step.ID(), timeout.String())
			stepState.Fail(timeoutErr)
			return timeoutErr
		}
	}

	// unreachable, the loop returns on its last attempt
	return NewFatalError("retry loop exited", nil)
}

// skipDependentStages marks every step downstream of the failed Step as skipped
func (m *Manager) skipDependentStages(state *OperationState, failedStageID string) {
	for _, step := range m.registry.GetDependents(failedStageID) {
		stepState := state.GetStage(step.ID())
		if stepState != nil && stepState.GetStatus() == StepStatusPending {
			stepState.Skip(fmt.Sprintf("dependency %s did not complete", failedStageID))
			m.skipDependentStages(state, step.ID())
		}
	}
}

// checkDependencies verifies that all dependencies completed
func (m *Manager) checkDependencies(state *OperationState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStage(dep)
		if depState == nil {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not found", dep))
		}
		if status := depState.GetStatus(); status != StepStatusCompleted {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not completed (status: %s)", dep, status))
		}
	}
	return nil
}

// calculateRetryDelay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay
func (m *Manager) calculateRetryDelay(attempt int, config RetryConfig) time.Duration {
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// createResponse creates an operation response from state
func (m *Manager) createResponse(state *OperationState, order []string) *OperationResponse {
	resp := &OperationResponse{
		ID:       state.ID,
		Status:   state.Status,
		Duration: state.Duration(),
		Steps:    state.Steps,
		Order:    order,
	}
	if state.Error != nil {
		resp.Error = state.Error.Error()
	}
	return resp
}

// GetOperation retrieves the live state of an operation still executing
func (m *Manager) GetOperation(id string) (*OperationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.operations[id]
	if !exists {
		return nil, fmt.Errorf("operation %s not found", id)
	}
	return state, nil
}

func (m *Manager) storeOperation(state *OperationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[state.ID] = state
}

func (m *Manager) removeOperation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, id)
}
