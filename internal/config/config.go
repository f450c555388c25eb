package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultDownloadURL is where the small FourCastNetv2 assets are published.
// {file} is replaced by the asset file name.
const DefaultDownloadURL = "https://get.ecmwf.int/repository/test-data/ai-models/fourcastnetv2/small/{file}"

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers      []string
	KafkaRequestTopic string
	KafkaResultTopic  string
	KafkaGroupID      string
	HTTPAddr          string
	LogLevel          string
	LogFormat         string
	ShutdownTimeout   time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Model assets and outputs.
	AssetsDir       string
	OutputDir       string
	ModelsConfig    string
	Backend         string
	ModelCacheSize  int
	DefaultLeadTime int

	// Asset download configuration.
	DownloadEnabled bool
	DownloadURL     string
	DownloadTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	downloadTimeoutStr := sharedcfg.EnvOrDefault("DOWNLOAD_TIMEOUT", "10m")
	downloadTimeout, err2 := time.ParseDuration(downloadTimeoutStr)
	if err2 != nil || downloadTimeout <= 0 {
		return nil, errors.New("invalid DOWNLOAD_TIMEOUT")
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	leadTime, err := parseLeadTime()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRequestTopic:  sharedcfg.EnvOrDefault("KAFKA_REQUEST_TOPIC", "forecast-requests"),
		KafkaResultTopic:   sharedcfg.EnvOrDefault("KAFKA_RESULT_TOPIC", "forecast-results"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "fourcastnetv2"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		AssetsDir:       sharedcfg.EnvOrDefault("ASSETS_DIR", "assets"),
		OutputDir:       sharedcfg.EnvOrDefault("OUTPUT_DIR", "output"),
		ModelsConfig:    os.Getenv("MODELS_CONFIG"),
		Backend:         os.Getenv("GOMLX_BACKEND"),
		ModelCacheSize:  parsePositiveInt("MODEL_CACHE_SIZE", 1),
		DefaultLeadTime: leadTime,

		DownloadEnabled: os.Getenv("DOWNLOAD_ENABLED") == "true",
		DownloadURL:     sharedcfg.EnvOrDefault("DOWNLOAD_URL", DefaultDownloadURL),
		DownloadTimeout: downloadTimeout,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaRequestTopic == "" {
		return nil, errors.New("KAFKA_REQUEST_TOPIC is required")
	}
	if cfg.KafkaResultTopic == "" {
		return nil, errors.New("KAFKA_RESULT_TOPIC is required")
	}
	if cfg.AssetsDir == "" {
		return nil, errors.New("ASSETS_DIR is required")
	}
	if cfg.DownloadEnabled && !strings.Contains(cfg.DownloadURL, "{file}") {
		return nil, errors.New("DOWNLOAD_URL must contain a {file} placeholder")
	}

	return cfg, nil
}

func parseLeadTime() (int, error) {
	s := sharedcfg.EnvOrDefault("DEFAULT_LEAD_TIME", "240")
	n, err := strconv.Atoi(s)
	if err != nil || n < 6 || n%6 != 0 {
		return 0, fmt.Errorf("invalid DEFAULT_LEAD_TIME %q: must be a positive multiple of 6 hours", s)
	}
	return n, nil
}

func parsePositiveInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}
