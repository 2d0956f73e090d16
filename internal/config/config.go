// Package config loads optimusd settings: defaults, then an optional YAML
// file, then OPTIMUS_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OPTIMUS_"

// PathEnv names the config file when --config is not given.
const PathEnv = EnvPrefix + "CONFIG"

// Config is the full daemon configuration.
type Config struct {
	HTTP       HTTP       `yaml:"http" envPrefix:"HTTP_"`
	Storage    Storage    `yaml:"storage" envPrefix:"STORAGE_"`
	Blob       Blob       `yaml:"blob" envPrefix:"BLOB_"`
	NATS       NATS       `yaml:"nats" envPrefix:"NATS_"`
	Log        Log        `yaml:"log" envPrefix:"LOG_"`
	Simulation Simulation `yaml:"simulation" envPrefix:"SIMULATION_"`
}

// HTTP configures the API server.
type HTTP struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CORSOrigin      string        `yaml:"cors_origin" env:"CORS_ORIGIN"`
}

// Storage selects the norm and case store.
type Storage struct {
	Driver      string `yaml:"driver" env:"DRIVER"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
}

// Blob selects where the notification log is mirrored.
type Blob struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	FSRoot string `yaml:"fs_root" env:"FS_ROOT"`
	S3     S3     `yaml:"s3" envPrefix:"S3_"`
}

// S3 configures the S3 blob backend.
type S3 struct {
	Region          string `yaml:"region" env:"REGION"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	PathStyle       bool   `yaml:"path_style" env:"PATH_STYLE"`
}

// NATS configures the optional event mirror. An empty URL disables it.
type NATS struct {
	URL    string `yaml:"url" env:"URL"`
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

// Log configures the process logger.
type Log struct {
	Format string `yaml:"format" env:"FORMAT"`
	Level  string `yaml:"level" env:"LEVEL"`
}

// Simulation tunes the society.
type Simulation struct {
	AutopilotInterval time.Duration `yaml:"autopilot_interval" env:"AUTOPILOT_INTERVAL"`
	BatchSize         int           `yaml:"batch_size" env:"BATCH_SIZE"`
	Seed              uint64        `yaml:"seed" env:"SEED"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:            ":5000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			CORSOrigin:      "*",
		},
		Storage: Storage{
			Driver:     "sqlite",
			SQLitePath: "data/optimus.db",
		},
		Blob: Blob{
			Driver: "fs",
			FSRoot: "data/blobs",
			S3:     S3{Region: "us-east-1"},
		},
		NATS: NATS{Prefix: "optimus.events"},
		Log:  Log{Format: "text", Level: "info"},
		Simulation: Simulation{
			BatchSize: 5,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// OPTIMUS_CONFIG is consulted; a missing path means defaults plus environment.
func Load(path string) (Config, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (Config, error) {
	cfg := Default()
	envMap := toMap(environ)
	if path == "" {
		path = envMap[PathEnv]
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: envMap}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func toMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "memory", "fs":
	case "s3":
		if strings.TrimSpace(c.Blob.S3.Bucket) == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		errs = append(errs, errors.New("http rate limit must not be negative"))
	}
	if c.Simulation.BatchSize < 0 {
		errs = append(errs, errors.New("simulation.batch_size must not be negative"))
	}
	if c.Simulation.AutopilotInterval < 0 {
		errs = append(errs, errors.New("simulation.autopilot_interval must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
