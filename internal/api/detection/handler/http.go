package detectionHandler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"DetectionWeb/internal/api/detection"
	detectionService "DetectionWeb/internal/api/detection/service"
	"DetectionWeb/internal/middleware"
)

type Config struct {
	// Version is reported by the health endpoint.
	Version string
	// Timeout bounds one predict request. Zero means DefaultRequestTimeout.
	Timeout time.Duration
}

type DetectionHandler struct {
	log              *logrus.Logger
	validator        *validator.Validate
	middleware       middleware.Middleware
	detectionService detectionService.IDetectionService
	cfg              Config
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	ds detectionService.IDetectionService,
	cfg Config,
) *DetectionHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	return &DetectionHandler{
		detectionService: ds,
		log:              log,
		validator:        validator,
		middleware:       middleware,
		cfg:              cfg,
	}
}

func (h *DetectionHandler) Start(srv fiber.Router) {
	srv.Get("/", h.Index)
	srv.Post("/predict", h.middleware.NewRateLimiter, h.PredictPage)

	api := srv.Group(detection.APIPrefix)
	api.Get("/health", h.Health)
	api.Post("/predict", h.middleware.NewRateLimiter, h.PredictAPI)
}
