package extractors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/files"
	"econetl/pkg/contracts/domain"
)

// Params narrows an extraction. Empty fields fall back to the extractor's
// configured defaults.
type Params struct {
	Countries   []string
	Indicators  []string
	Datasets    []string
	StartPeriod string
	EndPeriod   string
}

// Artifact describes a bronze artifact written by an extractor
type Artifact struct {
	Source      domain.Source         `json:"source"`
	Path        string                `json:"path"`
	Records     int                   `json:"records"`
	ExtractedAt time.Time             `json:"extracted_at"`
	Metrics     domain.ExtractMetrics `json:"metrics"`
}

// Extractor fetches raw observations from one upstream source. On failure the
// returned Artifact still carries the request metrics of the invocation.
type Extractor interface {
	Source() domain.Source
	Extract(ctx context.Context, params Params) (Artifact, error)
}

// New builds the extractors enabled in cfg
func New(cfg *config.Config, store *files.Manager, logger *slog.Logger) ([]Extractor, error) {
	var out []Extractor
	if cfg.WorldBank.Enabled {
		wb, err := NewWorldBank(cfg.WorldBank, store, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, wb)
	}
	if cfg.IMF.Enabled {
		imf, err := NewIMF(cfg.IMF, store, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, imf)
	}
	if len(out) == 0 {
		return nil, apperrors.NewConfigurationError("no extractor enabled", nil)
	}
	return out, nil
}

// base carries what both providers share: configuration defaults, the HTTP
// client and the bronze store
type base struct {
	source domain.Source
	cfg    config.SourceConfig
	client *httpClient
	store  *files.Manager
	logger *slog.Logger
	now    func() time.Time
}

func newBase(source domain.Source, cfg config.SourceConfig, store *files.Manager, logger *slog.Logger) (base, error) {
	if store == nil {
		return base{}, apperrors.NewConfigurationError(fmt.Sprintf("%s extractor requires a bronze store", source), nil)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return base{}, apperrors.NewConfigurationError(fmt.Sprintf("%s base_url is required", source), nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "extractor"), slog.String("source", string(source)))

	return base{
		source: source,
		cfg:    cfg,
		client: newHTTPClient(cfg, logger),
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Source returns the upstream source of the extractor
func (b *base) Source() domain.Source {
	return b.source
}

func (b *base) countries(p Params) []string {
	if len(p.Countries) > 0 {
		return p.Countries
	}
	return b.cfg.Countries
}

func (b *base) period(p Params) (string, string) {
	start, end := p.StartPeriod, p.EndPeriod
	if start == "" {
		start = b.cfg.StartPeriod
	}
	if end == "" {
		end = b.cfg.EndPeriod
	}
	if end == "" {
		end = fmt.Sprintf("%d", b.now().Year())
	}
	return start, end
}

var observationValidator = validator.New()

// validateObservations checks the struct constraints of every observation
func validateObservations(source domain.Source, observations []domain.RawObservation) error {
	var details []string
	for i := range observations {
		if err := observationValidator.Struct(observations[i]); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				return apperrors.NewDataValidationError(string(source), "invalid observation", err.Error())
			}
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("observation %d: %s failed %s", i, fe.Field(), fe.Tag()))
			}
		}
	}
	if len(details) > 0 {
		return apperrors.NewDataValidationError(string(source), "extracted observations failed validation", details...)
	}
	return nil
}

// persist writes the observations as a bronze artifact and fills in the
// metrics of the invocation
func (b *base) persist(params map[string]string, observations []domain.RawObservation, stats *requestStats, started time.Time) (Artifact, error) {
	if err := validateObservations(b.source, observations); err != nil {
		return b.failed(stats, started), err
	}
	extractedAt := b.now().UTC()
	if observations == nil {
		observations = []domain.RawObservation{}
	}
	bronze := domain.BronzeArtifact{
		Source:       b.source,
		ExtractedAt:  extractedAt,
		Parameters:   params,
		Observations: observations,
	}

	path, err := b.store.WriteJSON(config.LayerBronze, files.BronzeName(b.source, extractedAt), bronze)
	if err != nil {
		return b.failed(stats, started), apperrors.NewExtractionError(string(b.source), "failed to persist bronze artifact", err, false)
	}

	metrics := stats.metrics(b.source, started, b.now())
	metrics.RecordsExtracted = len(observations)
	metrics.Artifact = path
	b.logger.Info("extraction_complete",
		slog.String("artifact", path),
		slog.Int("records_extracted", metrics.RecordsExtracted),
		slog.Int("requests", metrics.Requests),
		slog.Int("failed_attempts", metrics.FailedAttempts),
		slog.Duration("duration", metrics.EndTime.Sub(started)))

	return Artifact{
		Source:      b.source,
		Path:        path,
		Records:     len(observations),
		ExtractedAt: extractedAt,
		Metrics:     metrics,
	}, nil
}

// failed reports the metrics of an invocation that produced no artifact
func (b *base) failed(stats *requestStats, started time.Time) Artifact {
	return Artifact{Source: b.source, Metrics: stats.metrics(b.source, started, b.now())}
}

func joinParam(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
