package operations

import (
	"context"
	"sort"
	"sync"
	"time"

	"econetl/internal/config"
	"econetl/internal/infrastructure"
	"econetl/pkg/contracts/domain"
)

// Collector accumulates what the stages report during one run. It implements
// MetricsSink and mirrors every record into the business metrics.
type Collector struct {
	mu        sync.Mutex
	extract   []domain.ExtractMetrics
	transform []domain.TransformMetrics
	load      *domain.LoadMetrics
	metrics   domain.PipelineMetrics
	business  *infrastructure.BusinessMetrics
}

// NewCollector creates an empty collector
func NewCollector(start time.Time, business *infrastructure.BusinessMetrics) *Collector {
	return &Collector{
		metrics: domain.PipelineMetrics{
			StartTime:         start,
			Errors:            []string{},
			Warnings:          []string{},
			DataQualityScores: make(map[string]float64),
		},
		business: business,
	}
}

// RecordExtract stores the metrics of one extractor invocation
func (c *Collector) RecordExtract(m domain.ExtractMetrics) {
	c.mu.Lock()
	c.extract = append(c.extract, m)
	c.mu.Unlock()

	var err error
	if m.Error != "" {
		err = errString(m.Error)
	}
	c.business.RecordExtraction(context.Background(), m.Source.String(), m.Requests, m.RecordsExtracted, m.FailedAttempts, err)
}

// RecordTransform stores the metrics of one layer transformation
func (c *Collector) RecordTransform(m domain.TransformMetrics) {
	c.mu.Lock()
	c.transform = append(c.transform, m)
	c.mu.Unlock()

	if m.Error == "" {
		c.business.RecordLayerWrite(context.Background(), m.Layer, m.Source, m.RowsOut, m.DuplicatesRemoved)
	}
}

// RecordLoad stores the warehouse load metrics
func (c *Collector) RecordLoad(m domain.LoadMetrics) {
	c.mu.Lock()
	c.load = &m
	c.mu.Unlock()

	c.business.RecordLoad(context.Background(), m.TargetTable, m.RowsLoaded, m.BatchesFailed)
}

// AddProcessed adds to the number of records that reached gold
func (c *Collector) AddProcessed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.RecordsProcessed += n
}

// AddError appends an error message
func (c *Collector) AddError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Errors = append(c.metrics.Errors, msg)
}

// AddWarning appends a warning message
func (c *Collector) AddWarning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Warnings = append(c.metrics.Warnings, msg)
}

// SetQuality records the share of bronze observations that survived cleaning
func (c *Collector) SetQuality(source string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.DataQualityScores[source] = score
}

// Report builds the execution report from the collected values
func (c *Collector) Report(runID string, end time.Time) *domain.ExecutionReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	extract := append([]domain.ExtractMetrics(nil), c.extract...)
	sort.SliceStable(extract, func(i, j int) bool { return extract[i].Source < extract[j].Source })

	transform := append([]domain.TransformMetrics(nil), c.transform...)
	sort.SliceStable(transform, func(i, j int) bool {
		if li, lj := layerRank(transform[i].Layer), layerRank(transform[j].Layer); li != lj {
			return li < lj
		}
		return transform[i].Source < transform[j].Source
	})

	metrics := c.metrics
	metrics.EndTime = end
	metrics.Errors = append([]string{}, c.metrics.Errors...)
	metrics.Warnings = append([]string{}, c.metrics.Warnings...)
	metrics.DataQualityScores = make(map[string]float64, len(c.metrics.DataQualityScores))
	for k, v := range c.metrics.DataQualityScores {
		metrics.DataQualityScores[k] = v
	}

	report := &domain.ExecutionReport{
		RunID:            runID,
		MissingSources:   []domain.Source{},
		ExtractMetrics:   extract,
		TransformMetrics: transform,
		Metrics:          metrics,
	}
	if c.load != nil {
		load := *c.load
		report.LoadMetrics = &load
	}
	return report
}

// PipelineStatus derives the overall outcome of a run
func PipelineStatus(runErr error, stageFailed bool, missing []domain.Source, errs []string) domain.PipelineStatus {
	switch {
	case runErr != nil || stageFailed:
		return domain.PipelineStatusFailed
	case len(missing) > 0 || len(errs) > 0:
		return domain.PipelineStatusPartialSuccess
	default:
		return domain.PipelineStatusSuccess
	}
}

func layerRank(layer string) int {
	switch config.Layer(layer) {
	case config.LayerSilver:
		return 0
	case config.LayerGold:
		return 1
	}
	return 2
}

type errString string

func (e errString) Error() string { return string(e) }
