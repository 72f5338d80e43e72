package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GCP_PROJECT", "BQ_DATASET", "GCS_BUCKET", "PORT", "LOG_LEVEL", "GEMINI_MODEL", "GEMINI_API_KEY", "ENRICH_GEO"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Extraction.CSVBatchSize)
	assert.Equal(t, 5, cfg.Jobs.Workers)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
gcp:
  project_id: from-file
  dataset: ds_file
extraction:
  csv_batch_size: 25
  csv_batch_interval: 500ms
  accepted_years: [2023, 2024]
enrichment:
  geo: false
log_level: debug
`), 0o644))

	clearEnv(t)
	t.Setenv("GCP_PROJECT", "from-env")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.GCP.ProjectID)
	assert.Equal(t, "ds_file", cfg.GCP.Dataset)
	assert.Equal(t, "secret", cfg.Model.APIKey)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Enrichment.Geo)

	ex := cfg.ExtractionSettings()
	assert.Equal(t, 25, ex.CSVBatchSize)
	assert.Equal(t, 500*time.Millisecond, ex.CSVBatchInterval)
	assert.Equal(t, []int{2023, 2024}, ex.AcceptedYears)
	assert.Equal(t, 30000, ex.MaxAssistedChars)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidGeoEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENRICH_GEO", "sometimes")
	_, err := Load("")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	cfg := Default()
	cfg.GCP.ProjectID = "proj"
	cfg.Model.APIKey = "never-written"

	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-written")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "proj", loaded.GCP.ProjectID)
	assert.Equal(t, cfg.Extraction.CSVBatchInterval, loaded.Extraction.CSVBatchInterval)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.GCP.ProjectID = "proj"
	assert.NoError(t, cfg.Validate())

	cfg.GCP.Dataset = ""
	assert.Error(t, cfg.Validate())
}
