// Package config loads runtime settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dvloznov/statement-analyzer/internal/extractor"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/rasterizer"
)

// EnvPrefix prefixes every environment override, e.g.
// STATEMENTS_RENDER_DPI=200.
const EnvPrefix = "STATEMENTS"

type GeminiConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	UploadAttempts   int           `mapstructure:"upload_attempts"`
	GenerateAttempts int           `mapstructure:"generate_attempts"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
}

type RenderConfig struct {
	DPI    int    `mapstructure:"dpi"`
	Format string `mapstructure:"format"`
	Binary string `mapstructure:"binary"`
}

type BatchConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	WorkDir     string `mapstructure:"work_dir"`
}

type GCSConfig struct {
	Bucket       string        `mapstructure:"bucket"`
	ReportPrefix string        `mapstructure:"report_prefix"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type BigQueryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
	Table   string `mapstructure:"table"`
}

type JobsConfig struct {
	Store      string `mapstructure:"store"` // memory or sqlite
	SQLitePath string `mapstructure:"sqlite_path"`
	Workers    int    `mapstructure:"workers"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	CORSOrigin  string `mapstructure:"cors_origin"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Render   RenderConfig   `mapstructure:"render"`
	Batch    BatchConfig    `mapstructure:"batch"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", extractor.DefaultModel)
	v.SetDefault("gemini.call_timeout", 2*time.Minute)
	v.SetDefault("gemini.upload_attempts", 3)
	v.SetDefault("gemini.generate_attempts", 4)
	v.SetDefault("gemini.initial_backoff", time.Second)
	v.SetDefault("gemini.max_backoff", 30*time.Second)

	v.SetDefault("render.dpi", rasterizer.DefaultDPI)
	v.SetDefault("render.format", rasterizer.DefaultFormat)
	v.SetDefault("render.binary", rasterizer.DefaultBinary)

	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("batch.work_dir", "")

	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.report_prefix", "reports")
	v.SetDefault("gcs.timeout", time.Minute)

	v.SetDefault("bigquery.enabled", false)
	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "statements")
	v.SetDefault("bigquery.table", "transactions")

	v.SetDefault("jobs.store", "memory")
	v.SetDefault("jobs.sqlite_path", "statement-jobs.db")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.max_retries", 1)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.max_upload_mb", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration. When path is empty, config.yaml in the working
// directory is used if present; a missing default file is not an error.
// Environment variables override the file, and GEMINI_API_KEY is honoured
// without the prefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini.api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("Load: bind GEMINI_API_KEY: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Load: read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("Load: unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks settings that would otherwise fail deep inside a batch.
// The API key is not checked here; commands that call the model check it.
func (c *Config) Validate() error {
	var errs []error
	if c.Render.DPI <= 0 {
		errs = append(errs, fmt.Errorf("render.dpi must be positive, got %d", c.Render.DPI))
	}
	switch strings.ToLower(c.Render.Format) {
	case "png", "jpeg", "jpg":
	default:
		errs = append(errs, fmt.Errorf("render.format must be png or jpeg, got %q", c.Render.Format))
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be at least 1, got %d", c.Batch.Concurrency))
	}
	switch c.Jobs.Store {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("jobs.store must be memory or sqlite, got %q", c.Jobs.Store))
	}
	if c.BigQuery.Enabled && c.BigQuery.Project == "" {
		errs = append(errs, errors.New("bigquery.project is required when bigquery.enabled is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	return nil
}

// RequireAPIKey fails when no Gemini key is configured.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return errors.New("GEMINI_API_KEY environment variable not found")
	}
	return nil
}

// Extractor returns the extractor settings.
func (c *Config) Extractor() extractor.Config {
	return extractor.Config{
		Model:            c.Gemini.Model,
		UploadAttempts:   c.Gemini.UploadAttempts,
		GenerateAttempts: c.Gemini.GenerateAttempts,
		CallTimeout:      c.Gemini.CallTimeout,
		InitialBackoff:   c.Gemini.InitialBackoff,
		MaxBackoff:       c.Gemini.MaxBackoff,
	}
}

// Rasterizer returns the page rendering options.
func (c *Config) Rasterizer() rasterizer.Options {
	return rasterizer.Options{DPI: c.Render.DPI, Format: c.Render.Format, Binary: c.Render.Binary}
}

// Logger returns the logging options.
func (c *Config) Logger() logger.Options {
	return logger.Options{Level: c.Log.Level, Format: c.Log.Format}
}
