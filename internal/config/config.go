package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "econetl/internal/errors"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "ECONETL"

// Config represents the complete pipeline configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	DataPaths DataPaths       `yaml:"data_paths" envconfig:"DATA_PATHS"`
	WorldBank WorldBankConfig `yaml:"worldbank" envconfig:"WORLDBANK"`
	IMF       IMFConfig       `yaml:"imf" envconfig:"IMF"`
	Transform TransformConfig `yaml:"transform" envconfig:"TRANSFORM"`
	Warehouse WarehouseConfig `yaml:"warehouse" envconfig:"WAREHOUSE"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
}

// ServerConfig contains the HTTP surface used by serve mode
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig controls OpenTelemetry exporters
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled" envconfig:"ENABLED"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// SourceConfig holds the HTTP and retry settings shared by every extractor
type SourceConfig struct {
	Enabled            bool          `yaml:"enabled" envconfig:"ENABLED"`
	BaseURL            string        `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	DefaultFormat      string        `yaml:"default_format" envconfig:"DEFAULT_FORMAT"`
	DefaultPageSize    int           `yaml:"default_page_size" envconfig:"DEFAULT_PAGE_SIZE" validate:"gte=1"`
	RetryAttempts      int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS" validate:"gte=0,lte=10"`
	RetryBackoffFactor float64       `yaml:"retry_backoff_factor" envconfig:"RETRY_BACKOFF_FACTOR" validate:"gte=0"`
	Timeout            time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	RateLimitPerSec    float64       `yaml:"rate_limit_per_sec" envconfig:"RATE_LIMIT_PER_SEC" validate:"gte=0"`
	Countries          []string      `yaml:"countries" envconfig:"COUNTRIES"`
	StartPeriod        string        `yaml:"start_period" envconfig:"START_PERIOD"`
	EndPeriod          string        `yaml:"end_period" envconfig:"END_PERIOD"`
}

// WorldBankConfig configures the World Bank indicators API extractor
type WorldBankConfig struct {
	SourceConfig `yaml:",inline"`
	Indicators   []string `yaml:"indicators" envconfig:"INDICATORS"`
}

// IMFConfig configures the IMF SDMX extractor
type IMFConfig struct {
	SourceConfig `yaml:",inline"`
	Datasets     []string `yaml:"datasets" envconfig:"DATASETS"`
}

// TransformConfig controls bronze to silver cleaning
type TransformConfig struct {
	DropNullValues bool              `yaml:"drop_null_values" envconfig:"DROP_NULL_VALUES"`
	DateFormat     string            `yaml:"date_format" envconfig:"DATE_FORMAT" validate:"required"`
	ValuePrecision int               `yaml:"value_precision" envconfig:"VALUE_PRECISION" validate:"gte=0,lte=10"`
	MinYear        int               `yaml:"min_year" envconfig:"MIN_YEAR" validate:"gte=1800"`
	ValueMin       float64           `yaml:"value_min" envconfig:"VALUE_MIN"`
	ValueMax       float64           `yaml:"value_max" envconfig:"VALUE_MAX" validate:"gtfield=ValueMin"`
	NullPolicies   map[string]string `yaml:"null_policies" envconfig:"NULL_POLICIES" validate:"dive,keys,required,endkeys,oneof=drop keep"`
	ExportWorkbook bool              `yaml:"export_workbook" envconfig:"EXPORT_WORKBOOK"`
}

// WarehouseConfig selects and addresses the relational target
type WarehouseConfig struct {
	Driver       string        `yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite postgres"`
	DSN          string        `yaml:"dsn" envconfig:"DSN" validate:"required"`
	SchemaName   string        `yaml:"schema_name" envconfig:"SCHEMA_NAME" validate:"required,identifier"`
	Table        string        `yaml:"table" envconfig:"TABLE" validate:"required,identifier"`
	BatchSize    int           `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"gte=1"`
	MaxOpenConns int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" validate:"gte=1"`
	ConnTimeout  time.Duration `yaml:"conn_timeout" envconfig:"CONN_TIMEOUT" validate:"gt=0"`
	LoadLayer    string        `yaml:"load_layer" envconfig:"LOAD_LAYER" validate:"oneof=gold silver"`
}

// PipelineConfig controls orchestration
type PipelineConfig struct {
	MaxWorkers           int           `yaml:"max_workers" envconfig:"MAX_WORKERS" validate:"gte=1"`
	MaxFailedSourceRatio float64       `yaml:"max_failed_source_ratio" envconfig:"MAX_FAILED_SOURCE_RATIO" validate:"gte=0,lte=1"`
	StageTimeout         time.Duration `yaml:"stage_timeout" envconfig:"STAGE_TIMEOUT" validate:"gt=0"`
}

// EnabledSources returns the names of the sources that will be extracted
func (c *Config) EnabledSources() []string {
	var out []string
	if c.WorldBank.Enabled {
		out = append(out, "worldbank")
	}
	if c.IMF.Enabled {
		out = append(out, "imf")
	}
	return out
}

// Load builds the configuration from defaults, an optional YAML file and
// ECONETL_* environment variables, in increasing order of precedence.
// An empty path searches the usual locations.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NewConfigurationError("failed to read .env file", err)
	}

	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("failed to load config file %s", path), err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigurationError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile overlays YAML values onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the first config file found in common locations
func getConfigFilePath() string {
	locations := []string{
		"pipeline.yaml",
		"configs/pipeline.yaml",
		"../configs/pipeline.yaml",
		"../../configs/pipeline.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

var structValidator = newValidator()

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the configuration and fails fast with a ConfigurationError
func (c *Config) Validate() error {
	var problems []string

	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if len(c.EnabledSources()) == 0 {
		problems = append(problems, "at least one source must be enabled")
	}
	if c.WorldBank.Enabled && len(nonEmpty(c.WorldBank.Indicators)) == 0 {
		problems = append(problems, "worldbank.indicators must not be empty")
	}
	if c.IMF.Enabled && len(nonEmpty(c.IMF.Datasets)) == 0 {
		problems = append(problems, "imf.datasets must not be empty")
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		problems = append(problems, "logging.file_path is required for file output")
	}

	if len(problems) > 0 {
		err := apperrors.NewConfigurationError("invalid configuration", nil)
		err.Details = problems
		return err
	}
	return nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/pipeline.log",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		DataPaths: DataPaths{
			Bronze: "data/bronze",
			Silver: "data/silver",
			Gold:   "data/gold",
		},
		WorldBank: WorldBankConfig{
			SourceConfig: SourceConfig{
				Enabled:            true,
				BaseURL:            "https://api.worldbank.org/v2",
				DefaultFormat:      "json",
				DefaultPageSize:    1000,
				RetryAttempts:      3,
				RetryBackoffFactor: 0.3,
				Timeout:            10 * time.Second,
				RateLimitPerSec:    5,
				Countries:          []string{"US", "GB", "DE", "FR", "IT"},
				StartPeriod:        "2000",
				EndPeriod:          fmt.Sprint(time.Now().Year()),
			},
			Indicators: []string{"NY.GDP.MKTP.KD.ZG", "FP.CPI.TOTL.ZG", "SL.UEM.TOTL.ZS"},
		},
		IMF: IMFConfig{
			SourceConfig: SourceConfig{
				Enabled:            true,
				BaseURL:            "http://dataservices.imf.org/REST/SDMX_JSON.svc",
				DefaultFormat:      "json",
				DefaultPageSize:    1000,
				RetryAttempts:      3,
				RetryBackoffFactor: 0.3,
				Timeout:            30 * time.Second,
				RateLimitPerSec:    2,
				Countries:          []string{"US", "GB", "DE", "FR", "IT"},
				StartPeriod:        "2000",
				EndPeriod:          fmt.Sprint(time.Now().Year()),
			},
			Datasets: []string{"IFS"},
		},
		Transform: TransformConfig{
			DropNullValues: true,
			DateFormat:     "2006",
			ValuePrecision: 2,
			MinYear:        1960,
			ValueMin:       -100,
			ValueMax:       1000000,
			NullPolicies:   map[string]string{},
			ExportWorkbook: false,
		},
		Warehouse: WarehouseConfig{
			Driver:       "sqlite",
			DSN:          "data/warehouse.db",
			SchemaName:   "economic_data",
			Table:        "economic_indicators",
			BatchSize:    1000,
			MaxOpenConns: 4,
			ConnTimeout:  30 * time.Second,
			LoadLayer:    "gold",
		},
		Pipeline: PipelineConfig{
			MaxWorkers:           4,
			MaxFailedSourceRatio: 0.5,
			StageTimeout:         30 * time.Minute,
		},
	}
}
