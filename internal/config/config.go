package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/enrichment"
	"github.com/dvloznov/statement-pipeline/internal/extraction"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the pipeline.yaml configuration shared by the API server and
// the CLI.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	GCP        GCPConfig        `yaml:"gcp"`
	Model      ModelConfig      `yaml:"model"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Jobs       JobsConfig       `yaml:"jobs"`
	LogLevel   string           `yaml:"log_level"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// GCPConfig names the storage locations.
type GCPConfig struct {
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
	Bucket    string `yaml:"bucket,omitempty"` // empty disables upload archival
}

// ModelConfig configures the completion collaborator.
type ModelConfig struct {
	Name    string        `yaml:"name"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// ExtractionConfig mirrors extraction.Config.
type ExtractionConfig struct {
	CSVBatchSize           int           `yaml:"csv_batch_size"`
	CSVBatchInterval       time.Duration `yaml:"csv_batch_interval"`
	MaxAssistedChars       int           `yaml:"max_assisted_chars"`
	MinPatternTransactions int           `yaml:"min_pattern_transactions"`
	AcceptedYears          []int         `yaml:"accepted_years"`
}

// EnrichmentConfig mirrors enrichment.Config.
type EnrichmentConfig struct {
	BatchSize int  `yaml:"batch_size"`
	Geo       bool `yaml:"geo"`
}

// JobsConfig sizes the in-memory job queue.
type JobsConfig struct {
	QueueSize  int `yaml:"queue_size"`
	Workers    int `yaml:"workers"`
	MaxRetries int `yaml:"max_retries"`
}

// Default returns a Config with the production defaults.
func Default() *Config {
	ex := extraction.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			MaxUploadBytes: 32 << 20,
		},
		GCP: GCPConfig{
			Dataset: "statements",
		},
		Model: ModelConfig{
			Name:    "gemini-2.5-flash",
			Timeout: 2 * time.Minute,
		},
		Extraction: ExtractionConfig{
			CSVBatchSize:           ex.CSVBatchSize,
			CSVBatchInterval:       ex.CSVBatchInterval,
			MaxAssistedChars:       ex.MaxAssistedChars,
			MinPatternTransactions: ex.MinPatternTransactions,
			AcceptedYears:          ex.AcceptedYears,
		},
		Enrichment: EnrichmentConfig{
			BatchSize: enrichment.DefaultBatchSize,
			Geo:       true,
		},
		Jobs: JobsConfig{
			QueueSize:  100,
			Workers:    5,
			MaxRetries: 3,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty and exists), then a .env file in the working directory,
// then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("Load: reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("Load: parsing config: %w", err)
			}
		}
	}

	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("Save: marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("Save: writing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.GCP.ProjectID, "GCP_PROJECT")
	setString(&c.GCP.Dataset, "BQ_DATASET")
	setString(&c.GCP.Bucket, "GCS_BUCKET")
	setString(&c.Server.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Model.Name, "GEMINI_MODEL")
	setString(&c.Model.APIKey, "GEMINI_API_KEY")

	if v := os.Getenv("ENRICH_GEO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("applyEnv: ENRICH_GEO: %w", err)
		}
		c.Enrichment.Geo = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the settings needed to talk to GCP.
func (c *Config) Validate() error {
	if c.GCP.ProjectID == "" {
		return fmt.Errorf("Validate: GCP project is not set (GCP_PROJECT or gcp.project_id)")
	}
	if c.GCP.Dataset == "" {
		return fmt.Errorf("Validate: BigQuery dataset is not set (BQ_DATASET or gcp.dataset)")
	}
	return nil
}

// ExtractionSettings converts the YAML block to extraction.Config, keeping
// defaults for zero values.
func (c *Config) ExtractionSettings() extraction.Config {
	out := extraction.DefaultConfig()
	ec := c.Extraction
	if ec.CSVBatchSize > 0 {
		out.CSVBatchSize = ec.CSVBatchSize
	}
	if ec.CSVBatchInterval >= 0 {
		out.CSVBatchInterval = ec.CSVBatchInterval
	}
	if ec.MaxAssistedChars > 0 {
		out.MaxAssistedChars = ec.MaxAssistedChars
	}
	if ec.MinPatternTransactions > 0 {
		out.MinPatternTransactions = ec.MinPatternTransactions
	}
	if len(ec.AcceptedYears) > 0 {
		out.AcceptedYears = ec.AcceptedYears
	}
	return out
}

// EnrichmentSettings converts the YAML block to enrichment.Config.
func (c *Config) EnrichmentSettings() enrichment.Config {
	return enrichment.Config{BatchSize: c.Enrichment.BatchSize, Geo: c.Enrichment.Geo}
}
