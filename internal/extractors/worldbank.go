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

const defaultWorldBankPageSize = 1000

// WorldBank extracts indicators from the World Bank v2 API
type WorldBank struct {
	base
	indicators []string
}

// NewWorldBank creates a World Bank extractor. At least one indicator must be configured.
func NewWorldBank(cfg config.WorldBankConfig, store *files.Manager, logger *slog.Logger) (*WorldBank, error) {
	if len(cfg.Indicators) == 0 {
		return nil, apperrors.NewConfigurationError("worldbank extractor requires at least one indicator", nil)
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = defaultWorldBankPageSize
	}
	b, err := newBase(domain.SourceWorldBank, cfg.SourceConfig, store, logger)
	if err != nil {
		return nil, err
	}
	return &WorldBank{base: b, indicators: cfg.Indicators}, nil
}

type wbMetadata struct {
	Page    int         `json:"page"`
	Pages   int         `json:"pages"`
	Total   int         `json:"total"`
	Message []wbMessage `json:"message"`
}

type wbMessage struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type wbRef struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type wbRecord struct {
	Indicator       wbRef    `json:"indicator"`
	Country         wbRef    `json:"country"`
	CountryISO3Code string   `json:"countryiso3code"`
	Date            string   `json:"date"`
	Value           *float64 `json:"value"`
	ObsStatus       string   `json:"obs_status"`
}

// Extract fetches every (indicator, country) series and writes one bronze artifact
func (w *WorldBank) Extract(ctx context.Context, p Params) (Artifact, error) {
	started := w.now()
	stats := &requestStats{}

	indicators := w.indicators
	if len(p.Indicators) > 0 {
		indicators = p.Indicators
	}
	countries := w.countries(p)
	if len(countries) == 0 {
		countries = []string{"all"}
	}
	start, end := w.period(p)

	w.logger.InfoContext(ctx, "extraction_start",
		slog.Int("indicators", len(indicators)),
		slog.Int("countries", len(countries)),
		slog.String("start_period", start),
		slog.String("end_period", end))

	var observations []domain.RawObservation
	for _, indicator := range indicators {
		for _, country := range countries {
			obs, err := w.fetchSeries(ctx, country, indicator, start, end, stats)
			if err != nil {
				return w.failed(stats, started), err
			}
			observations = append(observations, obs...)
		}
	}

	params := map[string]string{
		"countries":    joinParam(countries),
		"indicators":   joinParam(indicators),
		"start_period": start,
		"end_period":   end,
	}
	return w.persist(params, observations, stats, started)
}

// fetchSeries walks every page of one (country, indicator) series
func (w *WorldBank) fetchSeries(ctx context.Context, country, indicator, start, end string, stats *requestStats) ([]domain.RawObservation, error) {
	var out []domain.RawObservation
	for page := 1; ; page++ {
		endpoint := w.seriesURL(country, indicator, start, end, page)
		body, err := w.client.get(ctx, endpoint, stats)
		if err != nil {
			return nil, apperrors.NewExtractionError(string(w.source),
				fmt.Sprintf("failed to fetch %s for %s", indicator, country), err, isTransient(err)).
				WithContext("url", endpoint)
		}

		meta, records, err := parseWorldBankPage(body)
		if err != nil {
			return nil, apperrors.NewDataValidationError(string(w.source),
				fmt.Sprintf("unexpected payload for %s/%s", country, indicator), err.Error())
		}

		for _, r := range records {
			out = append(out, domain.RawObservation{
				Source:        domain.SourceWorldBank,
				Country:       r.Country.ID,
				CountryName:   r.Country.Value,
				Indicator:     indicator,
				IndicatorName: r.Indicator.Value,
				Date:          r.Date,
				Value:         r.Value,
				Status:        r.ObsStatus,
				Frequency:     frequencyOf(r.Date),
			})
		}

		if meta.Pages <= page {
			w.logger.DebugContext(ctx, "series_fetched",
				slog.String("country", country),
				slog.String("indicator", indicator),
				slog.Int("pages", page),
				slog.Int("total", meta.Total))
			return out, nil
		}
	}
}

func (w *WorldBank) seriesURL(country, indicator, start, end string, page int) string {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("per_page", strconv.Itoa(w.cfg.DefaultPageSize))
	if start != "" || end != "" {
		q.Set("date", start+":"+end)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	return fmt.Sprintf("%s/country/%s/indicator/%s?%s",
		strings.TrimRight(w.cfg.BaseURL, "/"),
		url.PathEscape(country),
		url.PathEscape(indicator),
		q.Encode())
}

// parseWorldBankPage decodes the [metadata, records] envelope. The API reports
// request errors as a single element array holding a message list.
func parseWorldBankPage(body []byte) (wbMetadata, []wbRecord, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return wbMetadata{}, nil, fmt.Errorf("expected a JSON array: %w", err)
	}
	if len(parts) == 0 {
		return wbMetadata{}, nil, fmt.Errorf("empty response array")
	}

	var meta wbMetadata
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return wbMetadata{}, nil, fmt.Errorf("invalid metadata: %w", err)
	}
	if len(meta.Message) > 0 {
		m := meta.Message[0]
		return wbMetadata{}, nil, fmt.Errorf("api error %s: %s %s", m.ID, m.Key, m.Value)
	}
	if len(parts) < 2 {
		if meta.Total == 0 {
			return meta, nil, nil
		}
		return wbMetadata{}, nil, fmt.Errorf("missing records for %d reported rows", meta.Total)
	}

	var records []wbRecord
	if !bytes.Equal(bytes.TrimSpace(parts[1]), []byte("null")) {
		if err := json.Unmarshal(parts[1], &records); err != nil {
			return wbMetadata{}, nil, fmt.Errorf("invalid records: %w", err)
		}
	}
	return meta, records, nil
}

// frequencyOf derives the SDMX frequency code from a World Bank period label
func frequencyOf(period string) string {
	switch {
	case strings.Contains(period, "Q"):
		return "Q"
	case strings.Contains(period, "M"):
		return "M"
	default:
		return "A"
	}
}

var _ Extractor = (*WorldBank)(nil)
