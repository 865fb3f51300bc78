// Package config resolves fx-ingest configuration from defaults, an optional
// YAML file, an optional .env file and FX_INGEST_* environment variables.
// CLI flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/ingest"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/source"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/storage"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FX_INGEST"

// DefaultEnvFile is read when present; a missing default file is not an error.
const DefaultEnvFile = ".env"

type Config struct {
	Output         string `yaml:"output" envconfig:"OUTPUT"`
	StartDate      string `yaml:"start_date" envconfig:"START_DATE"`
	EndDate        string `yaml:"end_date" envconfig:"END_DATE"`
	Currencies     string `yaml:"currencies" envconfig:"CURRENCIES"`
	AccessKey      string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	MaxDaysPerCall int    `yaml:"max_days_per_call" envconfig:"MAX_DAYS_PER_CALL"`
	Progress       bool   `yaml:"progress" envconfig:"PROGRESS"`

	API     APIConfig     `yaml:"api" envconfig:"API"`
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
	Log     LogConfig     `yaml:"log" envconfig:"LOG"`
	Metrics MetricsConfig `yaml:"metrics" envconfig:"METRICS"`
	Catalog CatalogConfig `yaml:"catalog" envconfig:"CATALOG"`
	Notify  NotifyConfig  `yaml:"notify" envconfig:"NOTIFY"`
}

type APIConfig struct {
	BaseURL           string        `yaml:"base_url" envconfig:"BASE_URL"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxAttempts       int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	RetryDelay        time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND"`
}

type StorageConfig struct {
	S3Region     string      `yaml:"s3_region" envconfig:"S3_REGION"`
	S3Endpoint   string      `yaml:"s3_endpoint" envconfig:"S3_ENDPOINT"`
	MinIO        MinIOConfig `yaml:"minio" envconfig:"MINIO"`
	StagingDir   string      `yaml:"staging_dir" envconfig:"STAGING_DIR"`
	DenyPatterns Patterns    `yaml:"deny_patterns" envconfig:"DENY_PATTERNS"`
}

// Patterns is a list of regular expressions. From the environment it is read
// as a YAML flow sequence (["a{1,3}", "b$"]) or, failing the leading
// bracket, as one pattern per line. Commas are never separators because
// they are common inside quantifiers.
type Patterns []string

// Decode implements envconfig.Decoder.
func (p *Patterns) Decode(value string) error {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "[") {
		var list []string
		if err := yaml.Unmarshal([]byte(value), &list); err != nil {
			return fmt.Errorf("parse pattern list: %w", err)
		}
		*p = list
		return nil
	}

	var list []string
	for _, line := range strings.Split(value, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			list = append(list, line)
		}
	}
	*p = list
	return nil
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Region    string `yaml:"region" envconfig:"REGION"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

type MetricsConfig struct {
	PushURL string `yaml:"push_url" envconfig:"PUSH_URL"`
	Job     string `yaml:"job" envconfig:"JOB"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	Strict      bool   `yaml:"strict" envconfig:"STRICT"`
}

type NotifyConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	BackupDir string `yaml:"backup_dir" envconfig:"BACKUP_DIR"`
	Strict    bool   `yaml:"strict" envconfig:"STRICT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StartDate:      "",
		EndDate:        daterange.TodayToken,
		Currencies:     "USD,EUR,INR",
		MaxDaysPerCall: 365,
		API: APIConfig{
			BaseURL:     source.DefaultBaseURL,
			Timeout:     source.DefaultTimeout,
			MaxAttempts: source.DefaultMaxAttempts,
			RetryDelay:  source.DefaultRetryDelay,
		},
		Storage: StorageConfig{
			DenyPatterns: append([]string(nil), ingest.DefaultDenyPatterns...),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Job: "fx_ingest",
		},
	}
}

// LoadOptions names the optional files Load reads.
type LoadOptions struct {
	ConfigFile string // YAML; empty skips
	EnvFile    string // dotenv; empty means DefaultEnvFile if present
}

// Load layers defaults, the YAML file, the .env file and the environment.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.ConfigFile, err)
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(envFile); err != nil {
		if opts.EnvFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// CurrencyList splits, trims and upper-cases the configured currencies.
func (c *Config) CurrencyList() []string {
	var out []string
	for _, code := range strings.Split(c.Currencies, ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			out = append(out, code)
		}
	}
	return out
}

// Request resolves dates against now and builds the ingestion request. An
// inverted interval is swapped and reported through swapped. Every error
// wraps ingest.ErrInvalidConfiguration.
func (c *Config) Request(now time.Time) (req ingest.Request, swapped bool, err error) {
	if strings.TrimSpace(c.Output) == "" {
		return req, false, fmt.Errorf("%w: output location is required", ingest.ErrInvalidConfiguration)
	}

	start, err := daterange.Resolve(c.StartDate, now)
	if err != nil {
		return req, false, fmt.Errorf("%w: start date: %v", ingest.ErrInvalidConfiguration, err)
	}
	end, err := daterange.Resolve(c.EndDate, now)
	if err != nil {
		return req, false, fmt.Errorf("%w: end date: %v", ingest.ErrInvalidConfiguration, err)
	}
	interval, swapped := daterange.Normalize(start, end)

	req = ingest.Request{
		Output:         c.Output,
		Start:          interval.Start,
		End:            interval.End,
		Currencies:     c.CurrencyList(),
		AccessKey:      c.AccessKey,
		MaxDaysPerCall: c.MaxDaysPerCall,
	}
	if err := req.Validate(); err != nil {
		return ingest.Request{}, false, err
	}
	return req, swapped, nil
}

// SourceConfig returns the timeframe client settings.
func (c *Config) SourceConfig() source.Config {
	return source.Config{
		BaseURL:           c.API.BaseURL,
		Timeout:           c.API.Timeout,
		MaxAttempts:       c.API.MaxAttempts,
		RetryDelay:        c.API.RetryDelay,
		RequestsPerSecond: c.API.RequestsPerSecond,
	}
}

// StoreConfig returns the object store settings.
func (c *Config) StoreConfig() storage.StorageConfig {
	return storage.StorageConfig{
		Output:     c.Output,
		S3Endpoint: c.Storage.S3Endpoint,
		S3Region:   c.Storage.S3Region,
		MinIO: storage.MinIOConfig{
			Endpoint:  c.Storage.MinIO.Endpoint,
			AccessKey: c.Storage.MinIO.AccessKey,
			SecretKey: c.Storage.MinIO.SecretKey,
			Region:    c.Storage.MinIO.Region,
			UseSSL:    c.Storage.MinIO.UseSSL,
		},
	}
}

// WriterConfig returns the partition writer settings for keys under prefix.
func (c *Config) WriterConfig(prefix string) ingest.WriterConfig {
	return ingest.WriterConfig{
		Prefix:       prefix,
		StagingDir:   c.Storage.StagingDir,
		DenyPatterns: []string(c.Storage.DenyPatterns),
	}
}
