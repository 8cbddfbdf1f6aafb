package extractors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/files"
	"econetl/pkg/contracts/domain"
)

// IMF extracts datasets from the IMF SDMX-JSON CompactData service
type IMF struct {
	base
	datasets []string
}

// NewIMF creates an IMF extractor. At least one dataset must be configured.
func NewIMF(cfg config.IMFConfig, store *files.Manager, logger *slog.Logger) (*IMF, error) {
	if len(cfg.Datasets) == 0 {
		return nil, apperrors.NewConfigurationError("imf extractor requires at least one dataset", nil)
	}
	b, err := newBase(domain.SourceIMF, cfg.SourceConfig, store, logger)
	if err != nil {
		return nil, err
	}
	return &IMF{base: b, datasets: cfg.Datasets}, nil
}

// oneOrMany decodes a JSON value that is either a single element or a list
// of elements into a list. SDMX-JSON collapses single-element lists.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*o = nil
	case data[0] == '[':
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*o = list
	default:
		var one T
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*o = oneOrMany[T]{one}
	}
	return nil
}

type imfResponse struct {
	CompactData *struct {
		DataSet *struct {
			Series oneOrMany[imfSeries] `json:"Series"`
		} `json:"DataSet"`
	} `json:"CompactData"`
}

type imfSeries struct {
	Frequency string            `json:"@FREQ"`
	RefArea   string            `json:"@REF_AREA"`
	Indicator string            `json:"@INDICATOR"`
	Obs       oneOrMany[imfObs] `json:"Obs"`
}

type imfObs struct {
	TimePeriod string `json:"@TIME_PERIOD"`
	Value      string `json:"@OBS_VALUE"`
	Status     string `json:"@OBS_STATUS"`
}

// Extract fetches every (dataset, country) combination and writes one bronze artifact
func (m *IMF) Extract(ctx context.Context, p Params) (Artifact, error) {
	started := m.now()
	stats := &requestStats{}

	datasets := m.datasets
	if len(p.Datasets) > 0 {
		datasets = p.Datasets
	}
	countries := m.countries(p)
	start, end := m.period(p)

	m.logger.InfoContext(ctx, "extraction_start",
		slog.Int("datasets", len(datasets)),
		slog.Int("countries", len(countries)),
		slog.String("start_period", start),
		slog.String("end_period", end))

	targets := countries
	if len(targets) == 0 {
		targets = []string{""}
	}

	var observations []domain.RawObservation
	for _, dataset := range datasets {
		for _, country := range targets {
			endpoint := m.compactDataURL(dataset, country, start, end)
			body, err := m.client.get(ctx, endpoint, stats)
			if err != nil {
				return m.failed(stats, started), apperrors.NewExtractionError(string(m.source),
					fmt.Sprintf("failed to fetch dataset %s", dataset), err, isTransient(err)).
					WithContext("url", endpoint)
			}

			obs, err := parseCompactData(body)
			if err != nil {
				return m.failed(stats, started), apperrors.NewDataValidationError(string(m.source),
					fmt.Sprintf("unexpected payload for dataset %s", dataset), err.Error())
			}
			m.logger.DebugContext(ctx, "dataset_fetched",
				slog.String("dataset", dataset),
				slog.String("country", country),
				slog.Int("observations", len(obs)))
			observations = append(observations, obs...)
		}
	}

	params := map[string]string{
		"countries":    joinParam(countries),
		"datasets":     joinParam(datasets),
		"start_period": start,
		"end_period":   end,
	}
	return m.persist(params, observations, stats, started)
}

func (m *IMF) compactDataURL(dataset, country, start, end string) string {
	q := url.Values{}
	if start != "" {
		q.Set("startPeriod", start)
	}
	if end != "" {
		q.Set("endPeriod", end)
	}
	if country != "" {
		q.Set("countries", country)
		q.Set("references", "all")
	}
	endpoint := fmt.Sprintf("%s/CompactData/%s", strings.TrimRight(m.cfg.BaseURL, "/"), url.PathEscape(dataset))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	return endpoint
}

// parseCompactData flattens CompactData.DataSet.Series into raw observations.
// A data set without series means the range holds no data.
func parseCompactData(body []byte) ([]domain.RawObservation, error) {
	var resp imfResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid CompactData document: %w", err)
	}
	if resp.CompactData == nil {
		return nil, fmt.Errorf("missing CompactData")
	}
	if resp.CompactData.DataSet == nil {
		return nil, fmt.Errorf("missing CompactData.DataSet")
	}

	var out []domain.RawObservation
	for _, s := range resp.CompactData.DataSet.Series {
		for _, o := range s.Obs {
			out = append(out, domain.RawObservation{
				Source:    domain.SourceIMF,
				Country:   s.RefArea,
				Indicator: s.Indicator,
				Date:      o.TimePeriod,
				Value:     parseObsValue(o.Value),
				Status:    o.Status,
				Frequency: s.Frequency,
			})
		}
	}
	return out, nil
}

// parseObsValue converts the textual SDMX value, nil when absent or not a number
func parseObsValue(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

var _ Extractor = (*IMF)(nil)
