// Package testutil provides step doubles for exercising the operations engine.
package testutil

import (
	"context"
	"sync"

	"econetl/internal/operations"
)

// MockStage is a configurable implementation of operations.Step
type MockStage struct {
	IDValue           string
	NameValue         string
	DependenciesValue []string
	Inputs            []operations.DataRequirement
	Outputs           []operations.DataOutput

	ExecuteFunc  func(ctx context.Context, state *operations.OperationState) error
	ValidateFunc func(state *operations.OperationState) error

	mu            sync.Mutex
	executeCalls  int
	validateCalls int
}

// NewMockStage creates a step that succeeds
func NewMockStage(id string, deps ...string) *MockStage {
	return &MockStage{IDValue: id, NameValue: id, DependenciesValue: deps}
}

// FailingStage creates a step whose Execute always returns err
func FailingStage(id string, err error, deps ...string) *MockStage {
	s := NewMockStage(id, deps...)
	s.ExecuteFunc = func(context.Context, *operations.OperationState) error { return err }
	return s
}

// FlakyStage fails with err for the first failures calls, then succeeds
func FlakyStage(id string, failures int, err error, deps ...string) *MockStage {
	s := NewMockStage(id, deps...)
	var n int
	var mu sync.Mutex
	s.ExecuteFunc = func(context.Context, *operations.OperationState) error {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= failures {
			return err
		}
		return nil
	}
	return s
}

// ID returns the step ID
func (m *MockStage) ID() string { return m.IDValue }

// Name returns the step name
func (m *MockStage) Name() string { return m.NameValue }

// GetDependencies returns the step dependencies
func (m *MockStage) GetDependencies() []string {
	if m.DependenciesValue == nil {
		return []string{}
	}
	return m.DependenciesValue
}

// Execute runs ExecuteFunc and publishes the declared outputs on success
func (m *MockStage) Execute(ctx context.Context, state *operations.OperationState) error {
	m.mu.Lock()
	m.executeCalls++
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		if err := m.ExecuteFunc(ctx, state); err != nil {
			return err
		}
	}
	for _, o := range m.Outputs {
		state.Manifest.AddData(o.Type, m.IDValue, []string{m.IDValue + "." + o.Type})
	}
	return nil
}

// Validate runs ValidateFunc
func (m *MockStage) Validate(state *operations.OperationState) error {
	m.mu.Lock()
	m.validateCalls++
	m.mu.Unlock()

	if m.ValidateFunc != nil {
		return m.ValidateFunc(state)
	}
	return nil
}

// RequiredInputs returns the configured requirements
func (m *MockStage) RequiredInputs() []operations.DataRequirement { return m.Inputs }

// ProducedOutputs returns the configured outputs
func (m *MockStage) ProducedOutputs() []operations.DataOutput { return m.Outputs }

// CanRun checks the configured requirements against the manifest
func (m *MockStage) CanRun(manifest *operations.PipelineManifest) bool {
	return operations.MissingInput(m.Inputs, manifest) == ""
}

// ExecuteCalls returns the number of Execute calls
func (m *MockStage) ExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeCalls
}

// ValidateCalls returns the number of Validate calls
func (m *MockStage) ValidateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateCalls
}

var _ operations.Step = (*MockStage)(nil)
