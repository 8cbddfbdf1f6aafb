package transform

import (
	"context"

	"econetl/pkg/contracts/domain"
)

// Transformer turns the artifacts of one layer into an artifact of the next
type Transformer interface {
	Transform(ctx context.Context, inputs []string) (Result, error)
}

// Result describes the artifact produced by a transformation
type Result struct {
	Path     string                  `json:"path"`
	Metrics  domain.TransformMetrics `json:"metrics"`
	Warnings []string                `json:"warnings,omitempty"`
	// Extra artifacts written alongside Path, such as the gold workbook
	Extra []string `json:"extra,omitempty"`
}
