package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Vision   VisionConfig   `yaml:"vision"`
	Faces    FacesConfig    `yaml:"faces"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type ScannerConfig struct {
	// LibraryRoot is the mount point of the media share. Per-owner scan
	// roots are resolved relative to it.
	LibraryRoot string `yaml:"library_root"`
	// UseQuickDigest enables the head+tail sample digest that guards
	// against coarse filesystem timestamp resolution.
	UseQuickDigest bool `yaml:"use_quick_digest"`
	// NearDuplicateDistance is the max Hamming distance between two
	// perceptual hashes still flagged as near-duplicates.
	NearDuplicateDistance int `yaml:"near_duplicate_distance"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	EmbeddingDim       int     `yaml:"embedding_dim"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	ObjectThreshold    float64 `yaml:"object_threshold"`
}

type FacesConfig struct {
	// Tolerance is the Euclidean distance below which two encodings are
	// considered the same identity.
	Tolerance float64 `yaml:"tolerance"`
}

type JobsConfig struct {
	// WorkerCount bounds the per-job unit worker pool.
	WorkerCount int `yaml:"worker_count"`
	// CancelPollInterval throttles the cancellation checkpoint between
	// dispatched units.
	CancelPollInterval time.Duration `yaml:"cancel_poll_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Scanner.NearDuplicateDistance == 0 {
		cfg.Scanner.NearDuplicateDistance = 8
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 512
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.ObjectThreshold == 0 {
		cfg.Vision.ObjectThreshold = 0.45
	}
	if cfg.Faces.Tolerance == 0 {
		cfg.Faces.Tolerance = 0.6
	}
	if cfg.Jobs.WorkerCount == 0 {
		cfg.Jobs.WorkerCount = 4
	}
	if cfg.Jobs.CancelPollInterval == 0 {
		cfg.Jobs.CancelPollInterval = 2 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PV_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PV_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PV_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PV_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PV_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PV_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PV_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PV_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PV_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("PV_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("PV_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("PV_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("PV_LIBRARY_ROOT"); v != "" {
		cfg.Scanner.LibraryRoot = v
	}
	if v := os.Getenv("PV_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("PV_JOB_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.WorkerCount = n
		}
	}
}
