package domain

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the upstream statistical provider an observation came from
type Source string

const (
	SourceWorldBank Source = "worldbank"
	SourceIMF       Source = "imf"
)

// AllSources lists every supported provider in a stable order
var AllSources = []Source{SourceWorldBank, SourceIMF}

// ParseSource converts a provider name into a Source
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceWorldBank:
		return SourceWorldBank, nil
	case SourceIMF:
		return SourceIMF, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// String returns the source name
func (s Source) String() string {
	return string(s)
}

// RawObservation is a single (country, indicator, period) value as returned upstream.
// Value is nil when the provider reported no figure for the period.
type RawObservation struct {
	Source        Source   `json:"source" validate:"required,oneof=worldbank imf"`
	Country       string   `json:"country"`
	CountryName   string   `json:"country_name,omitempty"`
	Indicator     string   `json:"indicator"`
	IndicatorName string   `json:"indicator_name,omitempty"`
	Date          string   `json:"date"`
	Value         *float64 `json:"value"`
	Status        string   `json:"status,omitempty"`
	Frequency     string   `json:"frequency,omitempty"`
}

// BronzeArtifact is the persisted, source-tagged batch written by one extractor call
type BronzeArtifact struct {
	Source       Source            `json:"source"`
	ExtractedAt  time.Time         `json:"extracted_at"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Observations []RawObservation  `json:"observations"`
}

// SilverRecord is a cleaned, typed observation
type SilverRecord struct {
	Country    string    `json:"country" db:"country"`
	Indicator  string    `json:"indicator" db:"indicator"`
	Date       time.Time `json:"date" db:"date"`
	Year       int       `json:"year" db:"year"`
	Quarter    int       `json:"quarter" db:"quarter"`
	Value      float64   `json:"value" db:"value"`
	DataSource string    `json:"data_source" db:"data_source"`
}

// Key returns the identity tuple of the record
func (r SilverRecord) Key() RecordKey {
	return RecordKey{
		Country:    r.Country,
		Indicator:  r.Indicator,
		Date:       r.Date.Format(DateLayout),
		DataSource: r.DataSource,
	}
}

// RecordKey identifies a silver or gold row
type RecordKey struct {
	Country    string
	Indicator  string
	Date       string
	DataSource string
}

// DateLayout is the on-disk representation of silver and gold dates
const DateLayout = "2006-01-02"
