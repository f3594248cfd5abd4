package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"APP_PORT", "APP_ENV", "MODEL_PATH", "CLASSES_PATH", "ONNXRUNTIME_LIB",
	"DETECTOR_ENGINE", "INFERENCE_WS_URL", "CONF_THRESHOLD", "IOU_THRESHOLD",
	"STATIC_DIR", "UPLOAD_DIR", "MAX_DOWNLOAD_BYTES", "FETCH_TIMEOUT",
	"BODY_LIMIT_MB", "REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "CACHE_TTL",
	"RATE_LIMIT", "RATE_BURST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(NewValidator())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, filepath.Join("models", "best.onnx"), cfg.ModelPath)
	assert.Equal(t, filepath.Join("models", "classes.txt"), cfg.ClassesPath)
	assert.Equal(t, EngineONNX, cfg.DetectorEngine)
	assert.Equal(t, 0.25, cfg.ConfThreshold)
	assert.Equal(t, 0.45, cfg.IoUThreshold)
	assert.Equal(t, int64(5*1024*1024), cfg.MaxDownloadBytes)
	assert.Equal(t, 6*time.Second, cfg.FetchTimeout)
	assert.Equal(t, filepath.Join("static", "uploads"), cfg.UploadDir)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Empty(t, cfg.RedisAddress)
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9000")
	t.Setenv("CONF_THRESHOLD", "0.5")
	t.Setenv("FETCH_TIMEOUT", "2s")
	t.Setenv("DETECTOR_ENGINE", "REMOTE")
	t.Setenv("INFERENCE_WS_URL", "ws://localhost:9001/predict")

	cfg, err := LoadConfig(NewValidator())
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 0.5, cfg.ConfThreshold)
	assert.Equal(t, 2*time.Second, cfg.FetchTimeout)
	assert.Equal(t, EngineRemote, cfg.DetectorEngine)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "threshold out of range", env: map[string]string{"CONF_THRESHOLD": "1.5"}},
		{name: "unparsable number", env: map[string]string{"IOU_THRESHOLD": "high"}},
		{name: "unknown engine", env: map[string]string{"DETECTOR_ENGINE": "tensorrt"}},
		{name: "remote without url", env: map[string]string{"DETECTOR_ENGINE": "remote"}},
		{name: "bad duration", env: map[string]string{"FETCH_TIMEOUT": "soon"}},
		{name: "upload dir outside static", env: map[string]string{"UPLOAD_DIR": "/tmp/uploads"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(NewValidator())
			require.Error(t, err)
		})
	}
}
