package handlerUtil

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"DetectionWeb/internal/api/detection"
	"DetectionWeb/pkg/log"
	"DetectionWeb/pkg/response"
)

const requestTimeoutMessage = "Request timed out"

type ErrorHandler struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

// classify resolves err into the status code and message shown to the
// client. Anything that is not a response.Error or a fiber.Error is logged
// with a trace id and hidden behind the generic message.
func (h *ErrorHandler) classify(requestID string, err error, path string, operation string) (int, string) {
	var respErr *response.Error
	if errors.As(err, &respErr) {
		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"code":       respErr.Code,
			"path":       path,
			"operation":  operation,
		}).Warn("Operation failed with error response")
		return respErr.Code, respErr.Error()
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"code":       fiberErr.Code,
			"path":       path,
			"operation":  operation,
		}).Warn("Request rejected")
		return fiberErr.Code, fiberErr.Message
	}

	if errors.Is(err, context.DeadlineExceeded) {
		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"path":       path,
			"operation":  operation,
		}).Warn("Request timed out")
		return fiber.StatusRequestTimeout, requestTimeoutMessage
	}

	log.ErrorWithTraceID(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
		"operation":  operation,
	}, "Unexpected error")

	return fiber.StatusInternalServerError, detection.ErrInternalServerError.Error()
}

// Handle answers a JSON API request that failed.
func (h *ErrorHandler) Handle(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	code, message := h.classify(requestID, err, path, operation)
	return c.Status(code).JSON(detection.NewErrorResponse(message))
}

// HandlePage renders the upload page with the error message. User-facing
// errors keep a 200 status; only unexpected failures answer 500.
func (h *ErrorHandler) HandlePage(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	code, message := h.classify(requestID, err, path, operation)
	if code != fiber.StatusInternalServerError {
		code = fiber.StatusOK
	}
	return c.Status(code).Render(detection.IndexView, detection.NewErrorView(message))
}

// HandleUnhandled answers errors that escape route handlers, such as the
// rate limiter, unknown routes and recovered panics. API routes get the
// JSON error shape, every other route gets the upload page back. Both keep
// the resolved status.
func (h *ErrorHandler) HandleUnhandled(c *fiber.Ctx, requestID string, err error) error {
	code, message := h.classify(requestID, err, c.Path(), "unhandled")
	if IsAPIRequest(c) {
		return c.Status(code).JSON(detection.NewErrorResponse(message))
	}
	return c.Status(code).Render(detection.IndexView, detection.NewErrorView(message))
}

// IsAPIRequest reports whether c targets the JSON API.
func IsAPIRequest(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Path(), detection.APIPrefix+"/") || c.Path() == detection.APIPrefix
}

func (h *ErrorHandler) HandleSuccess(c *fiber.Ctx, statusCode int, data interface{}) error {
	if data == nil {
		return c.SendStatus(statusCode)
	}
	return c.Status(statusCode).JSON(data)
}
