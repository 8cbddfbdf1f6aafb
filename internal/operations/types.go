package operations

import (
	"time"
)

// Stage identifiers
const (
	StageIDExtract = "extract"
	StageIDSilver  = "silver"
	StageIDGold    = "gold"
	StageIDLoad    = "load"
)

// Stage names
const (
	StageNameExtract = "Source Extraction"
	StageNameSilver  = "Bronze to Silver"
	StageNameGold    = "Silver to Gold"
	StageNameLoad    = "Warehouse Load"
)

// Context keys for operation state
const (
	ContextKeyFailedSources = "failed_sources"
	ContextKeyGoldArtifact  = "gold_artifact"
	ContextKeyLoadMetrics   = "load_metrics"
)

// Manifest data types produced by the stages
const (
	DataTypeBronze = "bronze_artifacts"
	DataTypeSilver = "silver_artifacts"
	DataTypeGold   = "gold_artifact"
)

// Default timeouts
const (
	DefaultStageTimeout   = 30 * time.Minute
	DefaultExtractTimeout = 60 * time.Minute
	DefaultLoadTimeout    = 15 * time.Minute
)

// ExecutionMode defines how steps are executed
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
)

// RetryConfig defines stage level retry behavior. Extractors retry their own
// HTTP calls; this only covers errors marked retryable at the stage boundary.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// OperationRequest asks the manager to execute the registered steps
type OperationRequest struct {
	ID         string                 `json:"id"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// OperationResponse is the outcome of Manager.Execute
type OperationResponse struct {
	ID       string                `json:"id"`
	Status   OperationStatusValue  `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Order    []string              `json:"order"`
	Error    string                `json:"error,omitempty"`
}
