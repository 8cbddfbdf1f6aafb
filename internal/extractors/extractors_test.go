package extractors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/internal/files"
	"econetl/pkg/contracts/domain"
)

func testStore(t *testing.T) *files.Manager {
	t.Helper()
	paths := config.DataPaths{Bronze: "bronze", Silver: "silver", Gold: "gold"}.Resolve(t.TempDir())
	return files.NewManager(paths, nil)
}

func sourceConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		Enabled:         true,
		BaseURL:         baseURL,
		DefaultFormat:   "json",
		DefaultPageSize: 2,
		RetryAttempts:   3,
		Timeout:         2 * time.Second,
		Countries:       []string{"US"},
		StartPeriod:     "2019",
		EndPeriod:       "2021",
	}
}

func readBronze(t *testing.T, path string) domain.BronzeArtifact {
	t.Helper()
	var artifact domain.BronzeArtifact
	require.NoError(t, files.ReadJSON(path, &artifact))
	return artifact
}

const wbPage1 = `[{"page":1,"pages":2,"per_page":"2","total":3},[
 {"indicator":{"id":"NY.GDP.MKTP.CD","value":"GDP (current US$)"},"country":{"id":"US","value":"United States"},"date":"2021","value":23.3,"obs_status":""},
 {"indicator":{"id":"NY.GDP.MKTP.CD","value":"GDP (current US$)"},"country":{"id":"US","value":"United States"},"date":"2020","value":21.0,"obs_status":""}]]`

const wbPage2 = `[{"page":2,"pages":2,"per_page":"2","total":3},[
 {"indicator":{"id":"NY.GDP.MKTP.CD","value":"GDP (current US$)"},"country":{"id":"US","value":"United States"},"date":"2019","value":null,"obs_status":""}]]`

func TestWorldBankExtractFollowsPagination(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		assert.Equal(t, "2019:2021", r.URL.Query().Get("date"))
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, wbPage2)
			return
		}
		fmt.Fprint(w, wbPage1)
	}))
	defer srv.Close()

	wb, err := NewWorldBank(config.WorldBankConfig{
		SourceConfig: sourceConfig(srv.URL),
		Indicators:   []string{"NY.GDP.MKTP.CD"},
	}, testStore(t), nil)
	require.NoError(t, err)

	artifact, err := wb.Extract(context.Background(), Params{})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"/country/US/indicator/NY.GDP.MKTP.CD", "/country/US/indicator/NY.GDP.MKTP.CD"}, paths)
	mu.Unlock()
	assert.Equal(t, domain.SourceWorldBank, artifact.Source)
	assert.Equal(t, 3, artifact.Records)
	assert.Equal(t, 2, artifact.Metrics.Requests)
	assert.Zero(t, artifact.Metrics.FailedAttempts)
	assert.Equal(t, artifact.Path, artifact.Metrics.Artifact)

	bronze := readBronze(t, artifact.Path)
	require.Len(t, bronze.Observations, 3)
	first := bronze.Observations[0]
	assert.Equal(t, "US", first.Country)
	assert.Equal(t, "United States", first.CountryName)
	assert.Equal(t, "GDP (current US$)", first.IndicatorName)
	assert.Equal(t, "2021", first.Date)
	require.NotNil(t, first.Value)
	assert.Equal(t, 23.3, *first.Value)
	assert.Nil(t, bronze.Observations[2].Value)
	assert.Equal(t, "US", bronze.Parameters["countries"])
}

func TestExtractRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			fmt.Fprint(w, `[{"page":1,"pages":1,"total":0},null]`)
		}
	}))
	defer srv.Close()

	wb, err := NewWorldBank(config.WorldBankConfig{
		SourceConfig: sourceConfig(srv.URL),
		Indicators:   []string{"FP.CPI.TOTL.ZG"},
	}, testStore(t), nil)
	require.NoError(t, err)

	artifact, err := wb.Extract(context.Background(), Params{})
	require.NoError(t, err)
	assert.Equal(t, 3, artifact.Metrics.Requests)
	assert.Equal(t, 2, artifact.Metrics.FailedAttempts)
	assert.Zero(t, artifact.Records)
	assert.Empty(t, readBronze(t, artifact.Path).Observations)
}

func TestExtractGivesUpAfterRetryCeiling(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := sourceConfig(srv.URL)
	cfg.RetryAttempts = 2
	imf, err := NewIMF(config.IMFConfig{SourceConfig: cfg, Datasets: []string{"IFS"}}, testStore(t), nil)
	require.NoError(t, err)

	artifact, err := imf.Extract(context.Background(), Params{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeExtraction))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.Retryable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 3, artifact.Metrics.Requests)
	assert.Equal(t, 2, artifact.Metrics.FailedAttempts)
	assert.Empty(t, artifact.Path)
}

func TestExtractDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	wb, err := NewWorldBank(config.WorldBankConfig{
		SourceConfig: sourceConfig(srv.URL),
		Indicators:   []string{"X"},
	}, testStore(t), nil)
	require.NoError(t, err)

	_, err = wb.Extract(context.Background(), Params{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeExtraction))
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.False(t, appErr.Retryable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExtractRetriesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := sourceConfig(url)
	cfg.RetryAttempts = 1
	wb, err := NewWorldBank(config.WorldBankConfig{SourceConfig: cfg, Indicators: []string{"X"}}, testStore(t), nil)
	require.NoError(t, err)

	artifact, err := wb.Extract(context.Background(), Params{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeExtraction))
	assert.Equal(t, 2, artifact.Metrics.Requests)
	assert.Equal(t, 1, artifact.Metrics.FailedAttempts)
}

func TestWorldBankErrorPayloadIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"message":[{"id":"120","key":"Invalid value","value":"The provided parameter value is not valid"}]}]`)
	}))
	defer srv.Close()

	wb, err := NewWorldBank(config.WorldBankConfig{
		SourceConfig: sourceConfig(srv.URL),
		Indicators:   []string{"BAD"},
	}, testStore(t), nil)
	require.NoError(t, err)

	_, err = wb.Extract(context.Background(), Params{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDataValidation))
	assert.False(t, apperrors.IsType(err, apperrors.ErrTypeExtraction))
	assert.Contains(t, err.Error(), "Invalid value")
}

func TestIMFNormalizesSingleAndListShapes(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/CompactData/IFS", r.URL.Path)
		assert.Equal(t, "2019", r.URL.Query().Get("startPeriod"))
		assert.Equal(t, "2021", r.URL.Query().Get("endPeriod"))
		assert.Equal(t, "all", r.URL.Query().Get("references"))
		country := r.URL.Query().Get("countries")
		mu.Lock()
		queries = append(queries, country)
		mu.Unlock()

		if country == "US" {
			fmt.Fprint(w, `{"CompactData":{"DataSet":{"Series":
				{"@FREQ":"Q","@REF_AREA":"US","@INDICATOR":"NGDP_R","Obs":{"@TIME_PERIOD":"2020-Q1","@OBS_VALUE":"100.5"}}}}}`)
			return
		}
		fmt.Fprint(w, `{"CompactData":{"DataSet":{"Series":[
			{"@FREQ":"A","@REF_AREA":"GB","@INDICATOR":"PCPI","Obs":[{"@TIME_PERIOD":"2019","@OBS_VALUE":"1.5"},{"@TIME_PERIOD":"2020","@OBS_VALUE":"n/a"}]},
			{"@FREQ":"A","@REF_AREA":"GB","@INDICATOR":"LUR","Obs":[{"@TIME_PERIOD":"2019","@OBS_VALUE":"3.8","@OBS_STATUS":"E"}]}]}}}`)
	}))
	defer srv.Close()

	cfg := sourceConfig(srv.URL)
	cfg.Countries = []string{"US", "GB"}
	imf, err := NewIMF(config.IMFConfig{SourceConfig: cfg, Datasets: []string{"IFS"}}, testStore(t), nil)
	require.NoError(t, err)

	artifact, err := imf.Extract(context.Background(), Params{})
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"US", "GB"}, queries)
	mu.Unlock()
	assert.Equal(t, 4, artifact.Records)

	obs := readBronze(t, artifact.Path).Observations
	require.Len(t, obs, 4)
	assert.Equal(t, domain.RawObservation{
		Source: domain.SourceIMF, Country: "US", Indicator: "NGDP_R", Date: "2020-Q1",
		Value: obs[0].Value, Frequency: "Q",
	}, obs[0])
	assert.Equal(t, 100.5, *obs[0].Value)
	assert.Nil(t, obs[2].Value)
	assert.Equal(t, "E", obs[3].Status)
}

func TestIMFPayloadShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantObs   int
		wantError bool
	}{
		{"no series means no data", `{"CompactData":{"DataSet":{"@DataSetID":"IFS"}}}`, 0, false},
		{"series without obs", `{"CompactData":{"DataSet":{"Series":{"@REF_AREA":"US"}}}}`, 0, false},
		{"missing CompactData", `{"Message":"Service unavailable"}`, 0, true},
		{"missing DataSet", `{"CompactData":{"Header":{}}}`, 0, true},
		{"not json", `<html></html>`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := parseCompactData([]byte(tt.body))
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, obs, tt.wantObs)
		})
	}
}

func TestConstructionRequiresIndicatorsAndDatasets(t *testing.T) {
	store := testStore(t)

	_, err := NewWorldBank(config.WorldBankConfig{SourceConfig: sourceConfig("http://example.invalid")}, store, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))

	_, err = NewIMF(config.IMFConfig{SourceConfig: sourceConfig("http://example.invalid")}, store, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))
}

func TestNewSelectsEnabledExtractors(t *testing.T) {
	cfg := config.Default()
	cfg.IMF.Enabled = false

	extractors, err := New(cfg, testStore(t), nil)
	require.NoError(t, err)
	require.Len(t, extractors, 1)
	assert.Equal(t, domain.SourceWorldBank, extractors[0].Source())

	cfg.WorldBank.Enabled = false
	_, err = New(cfg, testStore(t), nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := sourceConfig(srv.URL)
	cfg.RetryBackoffFactor = 10
	wb, err := NewWorldBank(config.WorldBankConfig{SourceConfig: cfg, Indicators: []string{"X"}}, testStore(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err = wb.Extract(ctx, Params{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestBackoffIsExponential(t *testing.T) {
	c := &httpClient{factor: 0.3}
	assert.Equal(t, 300*time.Millisecond, c.backoff(1))
	assert.Equal(t, 600*time.Millisecond, c.backoff(2))
	assert.Equal(t, 1200*time.Millisecond, c.backoff(3))

	c.factor = 100
	assert.Equal(t, maxBackoff, c.backoff(5))
}

func TestValidateObservations(t *testing.T) {
	v := 1.0
	valid := []domain.RawObservation{
		{Source: domain.SourceWorldBank, Country: "US", Indicator: "GDP", Date: "2020", Value: &v},
		{Source: domain.SourceIMF, Country: "DE", Indicator: "NGDP_R", Date: "2020-Q1"},
	}
	assert.NoError(t, validateObservations(domain.SourceWorldBank, valid))
	assert.NoError(t, validateObservations(domain.SourceWorldBank, nil))

	invalid := append(valid, domain.RawObservation{Source: "eurostat", Country: "FR"}, domain.RawObservation{Country: "IT"})
	err := validateObservations(domain.SourceWorldBank, invalid)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDataValidation))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{
		"observation 2: Source failed oneof",
		"observation 3: Source failed required",
	}, appErr.Details)
}
