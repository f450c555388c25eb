package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "forecast-requests", cfg.KafkaRequestTopic)
	assert.Equal(t, "forecast-results", cfg.KafkaResultTopic)
	assert.Equal(t, "fourcastnetv2", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.Equal(t, "assets", cfg.AssetsDir)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Empty(t, cfg.ModelsConfig)
	assert.Empty(t, cfg.Backend)
	assert.Equal(t, 1, cfg.ModelCacheSize)
	assert.Equal(t, 240, cfg.DefaultLeadTime)
	assert.False(t, cfg.DownloadEnabled)
	assert.Equal(t, DefaultDownloadURL, cfg.DownloadURL)
	assert.Equal(t, 10*time.Minute, cfg.DownloadTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_REQUEST_TOPIC", "custom-requests")
	t.Setenv("KAFKA_RESULT_TOPIC", "custom-results")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "4")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("ASSETS_DIR", "/models/fcnv2")
	t.Setenv("OUTPUT_DIR", "/data/out")
	t.Setenv("MODELS_CONFIG", "/etc/models_config.yml")
	t.Setenv("GOMLX_BACKEND", "xla:cuda")
	t.Setenv("MODEL_CACHE_SIZE", "2")
	t.Setenv("DEFAULT_LEAD_TIME", "72")
	t.Setenv("DOWNLOAD_ENABLED", "true")
	t.Setenv("DOWNLOAD_URL", "http://mirror.local/{file}")
	t.Setenv("DOWNLOAD_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-requests", cfg.KafkaRequestTopic)
	assert.Equal(t, "custom-results", cfg.KafkaResultTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.Equal(t, "/models/fcnv2", cfg.AssetsDir)
	assert.Equal(t, "/data/out", cfg.OutputDir)
	assert.Equal(t, "/etc/models_config.yml", cfg.ModelsConfig)
	assert.Equal(t, "xla:cuda", cfg.Backend)
	assert.Equal(t, 2, cfg.ModelCacheSize)
	assert.Equal(t, 72, cfg.DefaultLeadTime)
	assert.True(t, cfg.DownloadEnabled)
	assert.Equal(t, "http://mirror.local/{file}", cfg.DownloadURL)
	assert.Equal(t, 30*time.Second, cfg.DownloadTimeout)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidDownloadTimeout(t *testing.T) {
	t.Setenv("DOWNLOAD_TIMEOUT", "bad")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOWNLOAD_TIMEOUT")
}

func TestLoad_DownloadURLNeedsPlaceholder(t *testing.T) {
	t.Setenv("DOWNLOAD_ENABLED", "true")
	t.Setenv("DOWNLOAD_URL", "http://mirror.local/weights.npz")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOWNLOAD_URL")
}

func TestLoad_DownloadURLIgnoredWhenDisabled(t *testing.T) {
	t.Setenv("DOWNLOAD_URL", "http://mirror.local/weights.npz")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.DownloadEnabled)
}

func TestLoad_InvalidLeadTime(t *testing.T) {
	for _, v := range []string{"0", "5", "13", "-6", "ten"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("DEFAULT_LEAD_TIME", v)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "DEFAULT_LEAD_TIME")
		})
	}
}

func TestLoad_InvalidModelCacheSizeFallsBack(t *testing.T) {
	t.Setenv("MODEL_CACHE_SIZE", "-3")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ModelCacheSize)
}
