package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"DetectionWeb/internal/api/detection"
	detectionHandler "DetectionWeb/internal/api/detection/handler"
	detectionService "DetectionWeb/internal/api/detection/service"
	"DetectionWeb/internal/entity"
	"DetectionWeb/internal/middleware"
	"DetectionWeb/pkg/downloader"
	"DetectionWeb/pkg/redis"
	"DetectionWeb/pkg/utils"
	"DetectionWeb/pkg/yolo"
)

type ServerOption func(*Server) error

type Server struct {
	engine     *fiber.App
	cfg        *AppConfig
	log        *logrus.Logger
	middleware middleware.Middleware
	validator  *validator.Validate
	utils      utils.IUtils
	handlers   []handler
	detector   yolo.IDetector
	classNames []string
	cache      redis.IRedis
	downloader downloader.IDownloader
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if server.detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if server.middleware == nil {
		return nil, fmt.Errorf("middleware is required")
	}
	if server.downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if server.validator == nil {
		server.validator = NewValidator()
	}
	if server.utils == nil {
		server.utils = utils.New()
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithConfig(cfg *AppConfig) ServerOption {
	return func(s *Server) error {
		s.cfg = cfg
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithDetector(detector yolo.IDetector, classNames []string) ServerOption {
	return func(s *Server) error {
		s.detector = detector
		s.classNames = classNames
		return nil
	}
}

func WithCache(cache redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.cache = cache
		return nil
	}
}

func WithDownloader() ServerOption {
	return func(s *Server) error {
		if s.log == nil || s.cfg == nil {
			return fmt.Errorf("logger and config must be initialized before downloader")
		}
		s.downloader = downloader.New(downloader.Config{
			Timeout:      s.cfg.FetchTimeout,
			MaxBytes:     s.cfg.MaxDownloadBytes,
			ChunkSize:    downloader.DefaultChunkSize,
			AllowedTypes: detection.AllowedMimeTypes,
		}, s.log)
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil || s.cfg == nil {
			return fmt.Errorf("logger and config must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log, middleware.Config{
			RateLimit: s.cfg.RateLimit,
			RateBurst: s.cfg.RateBurst,
		})
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) RegisterHandler() {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())

	// Detection
	detectionServices := detectionService.NewDetectionService(s.log, detectionService.Config{
		UploadDir:    s.cfg.UploadDir,
		StaticDir:    s.cfg.StaticDir,
		StaticPrefix: "/static",
		Thresholds: entity.InferenceOptions{
			Conf: s.cfg.ConfThreshold,
			IoU:  s.cfg.IoUThreshold,
		},
		ClassNames: s.classNames,
	}, s.detector, s.cache, s.downloader, s.utils)
	detectionHandlers := detectionHandler.New(s.log, s.validator, s.middleware, detectionServices, detectionHandler.Config{
		Version: s.cfg.Version,
	})

	s.setupHealthCheck()
	s.handlers = append(s.handlers, detectionHandlers)

	for _, h := range s.handlers {
		h.Start(s.engine)
	}
}

func (s *Server) Run() error {
	return s.engine.Listen(fmt.Sprintf(":%s", s.cfg.Port))
}

// Shutdown stops accepting requests, waits for in-flight ones up to the
// context deadline and then releases the detector and cache.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.engine.ShutdownWithContext(ctx)

	if s.detector != nil {
		err = multierr.Append(err, s.detector.Close())
	}
	if s.cache != nil {
		err = multierr.Append(err, s.cache.Close())
	}

	return err
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(detection.HealthResponse{
			Status:  "ok",
			Version: s.cfg.Version,
		})
	})
}

// ShutdownTimeout bounds how long in-flight requests may run after a
// termination signal.
const ShutdownTimeout = 30 * time.Second
