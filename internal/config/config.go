// Package config loads bidflow settings from YAML, an optional .env file and
// BIDFLOW_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BIDFLOW_STORAGE_DRIVER.
const EnvPrefix = "BIDFLOW"

// Config is the root configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Download DownloadConfig `mapstructure:"download"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // memory, sqlite, postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// BlobConfig selects the attachment blob backend.
type BlobConfig struct {
	Driver string      `mapstructure:"driver"` // memory, fs, s3, minio
	FSRoot string      `mapstructure:"fs_root"`
	S3     S3Config    `mapstructure:"s3"`
	MinIO  MinIOConfig `mapstructure:"minio"`
}

// S3Config configures the AWS S3 driver.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// MinIOConfig configures the MinIO driver.
type MinIOConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// MetricsConfig selects the metrics exporter.
type MetricsConfig struct {
	Exporter  string `mapstructure:"exporter"` // prometheus, expvar, none
	Namespace string `mapstructure:"namespace"`
}

// WorkflowConfig holds approval and calculation tunables.
type WorkflowConfig struct {
	MaxReasonLength      int    `mapstructure:"max_reason_length"`
	DefaultProfitPercent string `mapstructure:"default_profit_percent"`
}

// ProfitPercent parses DefaultProfitPercent.
func (w WorkflowConfig) ProfitPercent() (decimal.Decimal, error) {
	return decimal.NewFromString(w.DefaultProfitPercent)
}

// ArchiveConfig controls archive maintenance.
type ArchiveConfig struct {
	// DedupeOnLoad runs the deduplication maintenance whenever the archive is
	// loaded, matching the legacy self-healing read.
	DedupeOnLoad bool `mapstructure:"dedupe_on_load"`
}

// DownloadConfig paces batch attachment downloads.
type DownloadConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Interval    time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "bidflow.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "./blobdata")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.minio.endpoint", "")
	v.SetDefault("blob.minio.access_key", "")
	v.SetDefault("blob.minio.secret_key", "")
	v.SetDefault("blob.minio.bucket", "")
	v.SetDefault("blob.minio.use_ssl", false)
	v.SetDefault("blob.minio.presign_expiry", "15m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stderr")
	v.SetDefault("metrics.exporter", "none")
	v.SetDefault("metrics.namespace", "bidflow")
	v.SetDefault("workflow.max_reason_length", 500)
	v.SetDefault("workflow.default_profit_percent", "10")
	v.SetDefault("archive.dedupe_on_load", false)
	v.SetDefault("download.concurrency", 1)
	v.SetDefault("download.interval", "300ms")
}

// Load reads configuration. An empty path searches ./bidflow.yaml and
// ./config/bidflow.yaml and tolerates their absence; an explicit path must
// exist. Values from .env are exported before environment overrides apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bidflow")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and numeric bounds.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "memory", "fs":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket required for s3 driver")
		}
	case "minio":
		if c.Blob.MinIO.Endpoint == "" || c.Blob.MinIO.Bucket == "" {
			return fmt.Errorf("blob.minio.endpoint and blob.minio.bucket required for minio driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Metrics.Exporter {
	case "prometheus", "expvar", "none", "":
	default:
		return fmt.Errorf("unknown metrics exporter %q", c.Metrics.Exporter)
	}
	if c.Workflow.MaxReasonLength <= 0 {
		return fmt.Errorf("workflow.max_reason_length must be positive")
	}
	if _, err := c.Workflow.ProfitPercent(); err != nil {
		return fmt.Errorf("workflow.default_profit_percent: %w", err)
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be positive")
	}
	if c.Download.Interval < 0 {
		return fmt.Errorf("download.interval must not be negative")
	}
	return nil
}
