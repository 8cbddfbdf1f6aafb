package operations

import "econetl/pkg/contracts/domain"

// MetricsSink receives the counters stages produce. Stages only write to it.
type MetricsSink interface {
	RecordExtract(m domain.ExtractMetrics)
	RecordTransform(m domain.TransformMetrics)
	RecordLoad(m domain.LoadMetrics)
	AddProcessed(n int)
	AddError(msg string)
	AddWarning(msg string)
	SetQuality(source string, score float64)
}
