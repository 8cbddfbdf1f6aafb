package transform

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/exporter"
	"econetl/internal/files"
	"econetl/pkg/contracts/domain"
)

func fptr(f float64) *float64 { return &f }

func testStore(t *testing.T) *files.Manager {
	t.Helper()
	paths := config.DataPaths{Bronze: "bronze", Silver: "silver", Gold: "gold"}.Resolve(t.TempDir())
	require.NoError(t, paths.EnsureDirectories())
	return files.NewManager(paths, nil)
}

func obs(country, indicator, date string, value *float64) domain.RawObservation {
	return domain.RawObservation{
		Source:    domain.SourceWorldBank,
		Country:   country,
		Indicator: indicator,
		Date:      date,
		Value:     value,
	}
}

func bronzeFixture() domain.BronzeArtifact {
	return domain.BronzeArtifact{
		Source:      domain.SourceWorldBank,
		ExtractedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Observations: []domain.RawObservation{
			obs("US", "GDP", "2021", fptr(2.5)),
			obs("US", "GDP", "2020", fptr(-3.4)),
			obs("US", "GDP", "2020", fptr(-3.4)),
			obs("US", "GDP", "2019", nil),
			obs(" de ", "GDP", "2020", fptr(1.1)),
			obs("", "GDP", "2020", fptr(1.0)),
			obs("FR", "  ", "2020", fptr(1.0)),
			obs("FR", "GDP", "not-a-date", fptr(1.0)),
		},
	}
}

func newCleaner(t *testing.T, mutate func(*config.TransformConfig)) *BronzeToSilver {
	cfg := config.Default().Transform
	if mutate != nil {
		mutate(&cfg)
	}
	return NewBronzeToSilver(cfg, testStore(t), nil)
}

func TestCleanEnforcesSilverInvariants(t *testing.T) {
	records, stats, err := newCleaner(t, nil).Clean(bronzeFixture())
	require.NoError(t, err)

	assert.Equal(t, 8, stats.RowsIn)
	assert.Equal(t, 4, stats.NullsDropped)
	assert.Equal(t, 1, stats.DuplicatesRemoved)

	require.Len(t, records, 3)
	seen := map[domain.RecordKey]bool{}
	for _, r := range records {
		assert.NotEmpty(t, r.Country)
		assert.NotEmpty(t, r.Indicator)
		assert.False(t, seen[r.Key()], "duplicate key %v", r.Key())
		seen[r.Key()] = true
	}

	assert.Equal(t, domain.SilverRecord{
		Country:    "DE",
		Indicator:  "GDP",
		Date:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Year:       2020,
		Quarter:    1,
		Value:      1.1,
		DataSource: "worldbank",
	}, records[0])
	assert.Equal(t, "US", records[1].Country)
	assert.Equal(t, 2020, records[1].Year)
	assert.Equal(t, 2021, records[2].Year)
}

func TestDuplicateBronzeRowYieldsOneSilverRow(t *testing.T) {
	bronze := domain.BronzeArtifact{
		Source: domain.SourceIMF,
		Observations: []domain.RawObservation{
			{Source: domain.SourceIMF, Country: "US", Indicator: "PCPI", Date: "2020-Q2", Value: fptr(101.5)},
			{Source: domain.SourceIMF, Country: "US", Indicator: "PCPI", Date: "2020-Q2", Value: fptr(101.5)},
		},
	}

	records, stats, err := newCleaner(t, nil).Clean(bronze)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, stats.DuplicatesRemoved)
	assert.Equal(t, 2, records[0].Quarter)
	assert.Equal(t, time.April, records[0].Date.Month())
	assert.Equal(t, []string{"imf: removed 1 duplicate rows"}, stats.Warnings("imf"))
}

func TestCleanRoundsToConfiguredPrecision(t *testing.T) {
	bronze := domain.BronzeArtifact{
		Source:       domain.SourceWorldBank,
		Observations: []domain.RawObservation{obs("US", "CPI", "2020", fptr(1.23456))},
	}

	records, _, err := newCleaner(t, func(c *config.TransformConfig) { c.ValuePrecision = 2 }).Clean(bronze)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1.23, records[0].Value)
}

func TestCleanKeepsFirstOfConflictingKeys(t *testing.T) {
	bronze := domain.BronzeArtifact{
		Source: domain.SourceIMF,
		Observations: []domain.RawObservation{
			{Source: domain.SourceIMF, Country: "US", Indicator: "NGDP", Date: "2020", Value: fptr(400)},
			{Source: domain.SourceIMF, Country: "US", Indicator: "NGDP", Date: "2020-Q1", Value: fptr(100)},
		},
	}

	records, stats, err := newCleaner(t, nil).Clean(bronze)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 400.0, records[0].Value)
	assert.Equal(t, 1, stats.ConflictsDropped)
}

func TestBronzeToSilverReportsConflictsDropped(t *testing.T) {
	store := testStore(t)
	cleaner := NewBronzeToSilver(config.Default().Transform, store, nil)

	bronze := domain.BronzeArtifact{
		Source: domain.SourceIMF,
		Observations: []domain.RawObservation{
			{Source: domain.SourceIMF, Country: "US", Indicator: "NGDP", Date: "2020", Value: fptr(400)},
			{Source: domain.SourceIMF, Country: "US", Indicator: "NGDP", Date: "2020-Q1", Value: fptr(100)},
			{Source: domain.SourceIMF, Country: "US", Indicator: "NGDP", Date: "2021", Value: fptr(410)},
		},
	}
	bronzePath, err := store.WriteJSON(config.LayerBronze, files.BronzeName(bronze.Source, time.Now()), bronze)
	require.NoError(t, err)

	result, err := cleaner.Transform(context.Background(), []string{bronzePath})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Metrics.RowsIn)
	assert.Equal(t, 2, result.Metrics.RowsOut)
	assert.Equal(t, 1, result.Metrics.ConflictsDropped)
	assert.Zero(t, result.Metrics.DuplicatesRemoved)
}

func TestCleanRejectsOutOfRangeValues(t *testing.T) {
	bronze := domain.BronzeArtifact{
		Source: domain.SourceWorldBank,
		Observations: []domain.RawObservation{
			obs("US", "GDP", "2020", fptr(21060473613000)),
			obs("US", "GDP", "1950", fptr(1)),
		},
	}

	_, _, err := newCleaner(t, nil).Clean(bronze)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeTransformation))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Len(t, appErr.Details, 2)
	assert.Contains(t, appErr.Details[0], "date: 1 row(s) below minimum 1960")
	assert.Contains(t, appErr.Details[1], "value: 1 row(s) above maximum 1000000")
}

func TestStrictNullHandlingFailsValidation(t *testing.T) {
	cleaner := newCleaner(t, func(c *config.TransformConfig) { c.DropNullValues = false })
	_, _, err := cleaner.Clean(bronzeFixture())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeTransformation))

	override := newCleaner(t, func(c *config.TransformConfig) {
		c.DropNullValues = false
		c.NullPolicies = map[string]string{"value": "drop", "country": "drop", "indicator": "drop", "date": "drop"}
	})
	records, _, err := override.Clean(bronzeFixture())
	require.NoError(t, err)
	assert.Len(t, records, 3)

	keepValue := newCleaner(t, func(c *config.TransformConfig) {
		c.NullPolicies = map[string]string{"value": "keep"}
	})
	_, _, err = keepValue.Clean(bronzeFixture())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeTransformation))
}

func TestBronzeToSilverTransformIsIdempotent(t *testing.T) {
	store := testStore(t)
	cleaner := NewBronzeToSilver(config.Default().Transform, store, nil)

	bronze := bronzeFixture()
	bronzePath, err := store.WriteJSON(config.LayerBronze, files.BronzeName(bronze.Source, bronze.ExtractedAt), bronze)
	require.NoError(t, err)

	first, err := cleaner.Transform(context.Background(), []string{bronzePath})
	require.NoError(t, err)
	second, err := cleaner.Transform(context.Background(), []string{bronzePath})
	require.NoError(t, err)
	assert.NotEqual(t, first.Path, second.Path)

	a, err := exporter.ReadSilverFile(first.Path)
	require.NoError(t, err)
	b, err := exporter.ReadSilverFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Equal(t, "silver", first.Metrics.Layer)
	assert.Equal(t, "worldbank", first.Metrics.Source)
	assert.Equal(t, 8, first.Metrics.RowsIn)
	assert.Equal(t, 3, first.Metrics.RowsOut)
	assert.Equal(t, []string{"worldbank: removed 1 duplicate rows"}, first.Warnings)

	source, err := files.SourceFromArtifact(first.Path)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceWorldBank, source)
}

func TestBronzeToSilverWritesNothingOnValidationFailure(t *testing.T) {
	store := testStore(t)
	cleaner := NewBronzeToSilver(config.Default().Transform, store, nil)

	bronze := domain.BronzeArtifact{
		Source:       domain.SourceIMF,
		Observations: []domain.RawObservation{{Source: domain.SourceIMF, Country: "US", Indicator: "X", Date: "2020", Value: fptr(-500)}},
	}
	bronzePath, err := store.WriteJSON(config.LayerBronze, files.BronzeName(bronze.Source, time.Now()), bronze)
	require.NoError(t, err)

	result, err := cleaner.Transform(context.Background(), []string{bronzePath})
	require.Error(t, err)
	assert.NotEmpty(t, result.Metrics.Error)

	entries, err := os.ReadDir(store.Paths().Silver)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		label  string
		layout string
		want   time.Time
		ok     bool
	}{
		{"2020", "2006", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"2020-07", "2006", time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC), true},
		{"2020-Q3", "2006", time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC), true},
		{"2020q4", "2006", time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC), true},
		{"2020M03", "2006", time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"2020M13", "2006", time.Time{}, false},
		{"2020-02-15", "2006", time.Date(2020, 2, 15, 0, 0, 0, 0, time.UTC), true},
		{"15/02/2020", "02/01/2006", time.Date(2020, 2, 15, 0, 0, 0, 0, time.UTC), true},
		{"", "2006", time.Time{}, false},
		{"soon", "2006", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParsePeriod(tt.label, tt.layout)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
