package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	EngineONNX   = "onnx"
	EngineRemote = "remote"
)

type AppConfig struct {
	Port    string `validate:"required,numeric"`
	Env     string `validate:"required"`
	Version string `validate:"required"`

	ModelPath      string `validate:"required"`
	ClassesPath    string
	OnnxRuntimeLib string
	DetectorEngine string `validate:"oneof=onnx remote"`
	InferenceWSURL string `validate:"required_if=DetectorEngine remote"`

	ConfThreshold float64 `validate:"gte=0,lte=1"`
	IoUThreshold  float64 `validate:"gte=0,lte=1"`

	StaticDir string `validate:"required"`
	UploadDir string `validate:"required"`

	MaxDownloadBytes int64         `validate:"gt=0"`
	FetchTimeout     time.Duration `validate:"gt=0"`
	BodyLimitMB      int           `validate:"gt=0"`

	RedisAddress  string
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	CacheTTL      time.Duration `validate:"gte=0"`

	RateLimit float64 `validate:"gt=0"`
	RateBurst int     `validate:"gt=0"`
}

func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// LoadEnv reads a .env file when one exists. Real environment variables
// always take precedence over its values.
func LoadEnv(logger *logrus.Logger) {
	if err := godotenv.Load(); err != nil {
		logger.Warnf("No .env file loaded: %v", err)
	}
}

// LoadConfig builds the application configuration from the environment and
// validates it.
func LoadConfig(v *validator.Validate) (*AppConfig, error) {
	var errs []string
	p := envParser{errs: &errs}

	cfg := &AppConfig{
		Port:    p.get("APP_PORT", "8080"),
		Env:     p.get("APP_ENV", "development"),
		Version: "v1",

		ModelPath:      p.get("MODEL_PATH", filepath.Join("models", "best.onnx")),
		ClassesPath:    p.get("CLASSES_PATH", filepath.Join("models", "classes.txt")),
		OnnxRuntimeLib: p.get("ONNXRUNTIME_LIB", ""),
		DetectorEngine: strings.ToLower(p.get("DETECTOR_ENGINE", EngineONNX)),
		InferenceWSURL: p.get("INFERENCE_WS_URL", ""),

		ConfThreshold: p.getFloat("CONF_THRESHOLD", 0.25),
		IoUThreshold:  p.getFloat("IOU_THRESHOLD", 0.45),

		StaticDir: p.get("STATIC_DIR", "static"),
		UploadDir: p.get("UPLOAD_DIR", filepath.Join("static", "uploads")),

		MaxDownloadBytes: int64(p.getInt("MAX_DOWNLOAD_BYTES", 5*1024*1024)),
		FetchTimeout:     p.getDuration("FETCH_TIMEOUT", 6*time.Second),
		BodyLimitMB:      p.getInt("BODY_LIMIT_MB", 50),

		RedisAddress:  p.get("REDIS_ADDRESS", ""),
		RedisPassword: p.get("REDIS_PASSWORD", ""),
		RedisDB:       p.getInt("REDIS_DB", 0),
		CacheTTL:      p.getDuration("CACHE_TTL", 10*time.Minute),

		RateLimit: p.getFloat("RATE_LIMIT", 5),
		RateBurst: p.getInt("RATE_BURST", 10),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}

	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.InferenceWSURL != "" {
		if err := v.Var(cfg.InferenceWSURL, "url"); err != nil {
			return nil, fmt.Errorf("invalid configuration: INFERENCE_WS_URL: %w", err)
		}
	}

	if !within(cfg.StaticDir, cfg.UploadDir) {
		return nil, fmt.Errorf("invalid configuration: UPLOAD_DIR %q must be inside STATIC_DIR %q", cfg.UploadDir, cfg.StaticDir)
	}

	return cfg, nil
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type envParser struct {
	errs *[]string
}

func (p envParser) get(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p envParser) getInt(key string, def int) int {
	raw := p.get(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func (p envParser) getFloat(key string, def float64) float64 {
	raw := p.get(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func (p envParser) getDuration(key string, def time.Duration) time.Duration {
	raw := p.get(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}
