package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "optimus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":5000", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestYAMLThenEnvironment(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":8080"
  read_timeout: 3s
storage:
  driver: postgres
  postgres_dsn: postgres://db/optimus
simulation:
  autopilot_interval: 1m
  batch_size: 7
`)
	cfg, err := load(path, []string{
		"OPTIMUS_HTTP_ADDR=:9090",
		"OPTIMUS_BLOB_DRIVER=s3",
		"OPTIMUS_BLOB_S3_BUCKET=notes",
		"OPTIMUS_BLOB_S3_PATH_STYLE=true",
		"OPTIMUS_NATS_URL=nats://localhost:4222",
		"OPTIMUS_SIMULATION_SEED=11",
		"UNRELATED=1",
	})
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://db/optimus", cfg.Storage.PostgresDSN)
	assert.Equal(t, "s3", cfg.Blob.Driver)
	assert.Equal(t, "notes", cfg.Blob.S3.Bucket)
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.Equal(t, "us-east-1", cfg.Blob.S3.Region)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, time.Minute, cfg.Simulation.AutopilotInterval)
	assert.Equal(t, 7, cfg.Simulation.BatchSize)
	assert.Equal(t, uint64(11), cfg.Simulation.Seed)
}

func TestConfigPathFromEnvironment(t *testing.T) {
	path := writeFile(t, "log:\n  format: json\n")
	cfg, err := load("", []string{PathEnv + "=" + path})
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := load(writeFile(t, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.ErrorContains(t, err, "read config")

	_, err = load(writeFile(t, "http:\n  adress: x\n"), nil)
	require.ErrorContains(t, err, "parse config")

	_, err = load("", []string{"OPTIMUS_HTTP_READ_TIMEOUT=soon"})
	require.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown storage":    func(c *Config) { c.Storage.Driver = "mongo" },
		"postgres dsn":       func(c *Config) { c.Storage.Driver = "postgres" },
		"unknown blob":       func(c *Config) { c.Blob.Driver = "gcs" },
		"s3 bucket":          func(c *Config) { c.Blob.Driver = "s3" },
		"empty addr":         func(c *Config) { c.HTTP.Addr = "" },
		"negative rate":      func(c *Config) { c.HTTP.RateLimitRPS = -1 },
		"negative batch":     func(c *Config) { c.Simulation.BatchSize = -2 },
		"negative autopilot": func(c *Config) { c.Simulation.AutopilotInterval = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
