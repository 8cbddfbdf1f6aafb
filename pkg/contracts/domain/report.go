package domain

import "time"

// PipelineStatus is the overall outcome of a run
type PipelineStatus string

const (
	PipelineStatusSuccess        PipelineStatus = "success"
	PipelineStatusPartialSuccess PipelineStatus = "partial_success"
	PipelineStatusFailed         PipelineStatus = "failed"
)

// ExtractMetrics summarizes one extractor invocation
type ExtractMetrics struct {
	Source           Source    `json:"source"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Requests         int       `json:"requests"`
	RecordsExtracted int       `json:"records_extracted"`
	FailedAttempts   int       `json:"failed_attempts"`
	Artifact         string    `json:"artifact,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// TransformMetrics summarizes one layer transformation
type TransformMetrics struct {
	Layer             string   `json:"layer"`
	Source            string   `json:"source,omitempty"`
	Inputs            []string `json:"inputs"`
	Output            string   `json:"output,omitempty"`
	RowsIn            int      `json:"rows_in"`
	RowsOut           int      `json:"rows_out"`
	NullsDropped      int      `json:"nulls_dropped"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	ConflictsDropped  int      `json:"conflicts_dropped"`
	Error             string   `json:"error,omitempty"`
}

// LoadMetrics summarizes a warehouse load
type LoadMetrics struct {
	Artifact      string   `json:"artifact"`
	TargetSchema  string   `json:"target_schema"`
	TargetTable   string   `json:"target_table"`
	BatchSize     int      `json:"batch_size"`
	Batches       int      `json:"batches"`
	BatchesFailed int      `json:"batches_failed"`
	RowsLoaded    int      `json:"rows_loaded"`
	RowsSkipped   int      `json:"rows_skipped"`
	Conflicts     []string `json:"conflicts,omitempty"`
}

// PipelineMetrics accumulates run-wide counters and messages
type PipelineMetrics struct {
	StartTime         time.Time          `json:"start_time"`
	EndTime           time.Time          `json:"end_time"`
	RecordsProcessed  int                `json:"records_processed"`
	Errors            []string           `json:"errors"`
	Warnings          []string           `json:"warnings"`
	DataQualityScores map[string]float64 `json:"data_quality_scores"`
}

// ExecutionReport is the structured result of a pipeline run
type ExecutionReport struct {
	RunID            string             `json:"run_id"`
	PipelineStatus   PipelineStatus     `json:"pipeline_status"`
	MissingSources   []Source           `json:"missing_sources"`
	ExtractMetrics   []ExtractMetrics   `json:"extract_metrics"`
	TransformMetrics []TransformMetrics `json:"transform_metrics"`
	LoadMetrics      *LoadMetrics       `json:"load_metrics,omitempty"`
	Metrics          PipelineMetrics    `json:"metrics"`
	Stages           []StageReport      `json:"stages"`
	GoldArtifact     string             `json:"gold_artifact,omitempty"`
}

// StageReport is the final state of one pipeline stage
type StageReport struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
