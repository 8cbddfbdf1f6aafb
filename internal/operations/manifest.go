package operations

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// PipelineManifest tracks the artifacts a run has produced so far. Stages
// find their inputs here rather than scanning the layer directories, so a
// run never picks up artifacts written by an earlier run.
type PipelineManifest struct {
	mu sync.RWMutex

	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`

	AvailableData map[string]*DataInfo `json:"available_data"`

	Stages []StageExecution `json:"stages"`

	Status      string    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
	Error       string    `json:"error,omitempty"`
}

// DataInfo lists the files of one data type
type DataInfo struct {
	Type      string    `json:"type"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// StageExecution tracks the execution of a single stage
type StageExecution struct {
	StageID    string    `json:"stage_id"`
	StageName  string    `json:"stage_name"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Duration   string    `json:"duration"`
	Status     string    `json:"status"`
	OutputData []string  `json:"output_data"`
	Error      string    `json:"error,omitempty"`
}

// NewPipelineManifest creates an empty manifest for a run
func NewPipelineManifest(runID string) *PipelineManifest {
	now := time.Now()
	return &PipelineManifest{
		RunID:         runID,
		StartTime:     now,
		AvailableData: make(map[string]*DataInfo),
		Status:        "pending",
		LastUpdated:   now,
	}
}

// HasData checks if a specific type of data is available
func (m *PipelineManifest) HasData(dataType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.AvailableData[dataType]
	return exists
}

// GetData returns a copy of the data recorded for dataType
func (m *PipelineManifest) GetData(dataType string) (DataInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.AvailableData[dataType]
	if !exists {
		return DataInfo{}, false
	}
	out := *data
	out.Files = append([]string(nil), data.Files...)
	return out, true
}

// Files returns the files recorded for dataType
func (m *PipelineManifest) Files(dataType string) []string {
	data, _ := m.GetData(dataType)
	return data.Files
}

// AddData records files produced by a stage, replacing earlier entries of the same type
func (m *PipelineManifest) AddData(dataType, createdBy string, files []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AvailableData[dataType] = &DataInfo{
		Type:      dataType,
		Files:     append([]string(nil), files...),
		CreatedAt: time.Now(),
		CreatedBy: createdBy,
	}
	m.LastUpdated = time.Now()
}

// RecordStageStart records the start of a stage execution
func (m *PipelineManifest) RecordStageStart(stageID, stageName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Status = "running"
	for i, stage := range m.Stages {
		if stage.StageID == stageID {
			// retry of the same stage
			m.Stages[i].StartTime = time.Now()
			m.Stages[i].Status = "running"
			m.LastUpdated = time.Now()
			return
		}
	}

	m.Stages = append(m.Stages, StageExecution{
		StageID:   stageID,
		StageName: stageName,
		StartTime: time.Now(),
		Status:    "running",
	})
	m.LastUpdated = time.Now()
}

// RecordStageCompletion records the completion of a stage
func (m *PipelineManifest) RecordStageCompletion(stageID string, outputData []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, stage := range m.Stages {
		if stage.StageID == stageID {
			m.Stages[i].EndTime = time.Now()
			m.Stages[i].Duration = time.Since(stage.StartTime).String()
			m.Stages[i].Status = "completed"
			m.Stages[i].OutputData = outputData
			break
		}
	}
	m.LastUpdated = time.Now()
}

// RecordStageFailure records a stage failure
func (m *PipelineManifest) RecordStageFailure(stageID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, stage := range m.Stages {
		if stage.StageID == stageID {
			m.Stages[i].EndTime = time.Now()
			m.Stages[i].Duration = time.Since(stage.StartTime).String()
			m.Stages[i].Status = "failed"
			m.Stages[i].Error = err.Error()
			break
		}
	}
	m.Status = "failed"
	m.Error = fmt.Sprintf("stage %s failed: %v", stageID, err)
	m.LastUpdated = time.Now()
}

// IsStageCompleted checks if a stage has been completed
func (m *PipelineManifest) IsStageCompleted(stageID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, stage := range m.Stages {
		if stage.StageID == stageID && stage.Status == "completed" {
			return true
		}
	}
	return false
}

// MarshalJSON snapshots the manifest under its lock
func (m *PipelineManifest) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(&struct {
		RunID         string               `json:"run_id"`
		StartTime     time.Time            `json:"start_time"`
		AvailableData map[string]*DataInfo `json:"available_data"`
		Stages        []StageExecution     `json:"stages"`
		Status        string               `json:"status"`
		LastUpdated   time.Time            `json:"last_updated"`
		Error         string               `json:"error,omitempty"`
	}{m.RunID, m.StartTime, m.AvailableData, m.Stages, m.Status, m.LastUpdated, m.Error})
}
