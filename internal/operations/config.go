package operations

import (
	"time"

	"econetl/internal/config"
)

// Config represents the operation execution configuration
type Config struct {
	// Execution mode, currently always sequential
	ExecutionMode ExecutionMode `json:"execution_mode"`

	// Step-specific timeouts
	StageTimeouts map[string]time.Duration `json:"stage_timeouts"`

	// Retry configuration for steps
	RetryConfig RetryConfig `json:"retry_config"`

	// Whether to keep running steps after one fails
	ContinueOnError bool `json:"continue_on_error"`

	// Worker cap for stages that fan out (extract, silver)
	MaxConcurrency int `json:"max_concurrency"`

	// Ratio of failed sources above which the run stops before gold
	MaxFailedSourceRatio float64 `json:"max_failed_source_ratio"`
}

// NewConfig returns the default operation configuration
func NewConfig() *Config {
	return &Config{
		ExecutionMode: ExecutionModeSequential,
		StageTimeouts: map[string]time.Duration{
			StageIDExtract: DefaultExtractTimeout,
			StageIDSilver:  DefaultStageTimeout,
			StageIDGold:    DefaultStageTimeout,
			StageIDLoad:    DefaultLoadTimeout,
		},
		RetryConfig:          NewRetryConfig(),
		MaxConcurrency:       4,
		MaxFailedSourceRatio: 0.5,
	}
}

// FromPipelineConfig derives the engine configuration from the pipeline settings
func FromPipelineConfig(pc config.PipelineConfig) *Config {
	b := NewConfigBuilder().
		WithMaxConcurrency(pc.MaxWorkers).
		WithMaxFailedSourceRatio(pc.MaxFailedSourceRatio)
	if pc.StageTimeout > 0 {
		for _, id := range []string{StageIDExtract, StageIDSilver, StageIDGold, StageIDLoad} {
			b.WithStageTimeout(id, pc.StageTimeout)
		}
	}
	return b.Build()
}

// GetStageTimeout returns the timeout for a specific Step
func (c *Config) GetStageTimeout(stageID string) time.Duration {
	if timeout, ok := c.StageTimeouts[stageID]; ok && timeout > 0 {
		return timeout
	}
	return DefaultStageTimeout
}

// SetStageTimeout sets the timeout for a specific Step
func (c *Config) SetStageTimeout(stageID string, timeout time.Duration) {
	if c.StageTimeouts == nil {
		c.StageTimeouts = make(map[string]time.Duration)
	}
	c.StageTimeouts[stageID] = timeout
}

// ConfigBuilder provides a fluent interface for building operation configurations
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: NewConfig(),
	}
}

// WithStageTimeout sets the timeout for a Step
func (b *ConfigBuilder) WithStageTimeout(stageID string, timeout time.Duration) *ConfigBuilder {
	b.config.SetStageTimeout(stageID, timeout)
	return b
}

// WithRetryConfig sets the retry configuration
func (b *ConfigBuilder) WithRetryConfig(config RetryConfig) *ConfigBuilder {
	b.config.RetryConfig = config
	return b
}

// WithContinueOnError sets whether to continue on errors
func (b *ConfigBuilder) WithContinueOnError(continueOnError bool) *ConfigBuilder {
	b.config.ContinueOnError = continueOnError
	return b
}

// WithMaxConcurrency sets the maximum concurrency
func (b *ConfigBuilder) WithMaxConcurrency(maxConcurrency int) *ConfigBuilder {
	if maxConcurrency > 0 {
		b.config.MaxConcurrency = maxConcurrency
	}
	return b
}

// WithMaxFailedSourceRatio sets the degraded-run threshold
func (b *ConfigBuilder) WithMaxFailedSourceRatio(ratio float64) *ConfigBuilder {
	if ratio >= 0 && ratio <= 1 {
		b.config.MaxFailedSourceRatio = ratio
	}
	return b
}

// Build returns the built configuration
func (b *ConfigBuilder) Build() *Config {
	return b.config
}
