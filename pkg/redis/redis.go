package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"DetectionWeb/internal/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const keyPrefix = "detection:"

// IRedis caches inference results keyed by image content and thresholds.
type IRedis interface {
	GetDetection(ctx context.Context, key string) (*entity.InferenceResult, bool, error)
	SetDetection(ctx context.Context, key string, result *entity.InferenceResult) error
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type redisClient struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// New connects to Redis. It returns nil when no address is configured, which
// callers treat as caching disabled.
func New(cfg Config, logger *logrus.Logger) IRedis {
	if cfg.Address == "" {
		logger.Info("Redis address not set, detection cache disabled")
		return nil
	}

	logger.Info(fmt.Sprintf("Connecting to Redis at %s...", cfg.Address))

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		logger.Info("Successfully connected to Redis")
	}

	return &redisClient{
		client: client,
		ttl:    cfg.TTL,
		log:    logger,
	}
}

// CacheKey derives the cache key for an image digest and a set of thresholds.
func CacheKey(digest []byte, opts entity.InferenceOptions) string {
	h := sha256.New()
	h.Write(digest)
	h.Write([]byte(strconv.FormatFloat(opts.Conf, 'g', -1, 64)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(opts.IoU, 'g', -1, 64)))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (r *redisClient) GetDetection(ctx context.Context, key string) (*entity.InferenceResult, bool, error) {
	r.log.Debug(fmt.Sprintf("Getting detection for key %s", key))

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		r.log.Error(fmt.Sprintf("Error getting detection for key %s: %v", key, err))
		return nil, false, err
	}

	var result entity.InferenceResult
	if err := json.Unmarshal(val, &result); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}

	return &result, true, nil
}

func (r *redisClient) SetDetection(ctx context.Context, key string, result *entity.InferenceResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		r.log.Error(fmt.Sprintf("Error setting detection for key %s: %v", key, err))
		return err
	}

	r.log.Debug(fmt.Sprintf("Cached detection for key %s with expiration %v", key, r.ttl))
	return nil
}

func (r *redisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
