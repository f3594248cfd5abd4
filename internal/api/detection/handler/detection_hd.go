package detectionHandler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"DetectionWeb/internal/api/detection"
	contextPkg "DetectionWeb/pkg/context"
	"DetectionWeb/pkg/handlerUtil"
	"DetectionWeb/pkg/log"
)

const DefaultRequestTimeout = 60 * time.Second

// predictForm is the optional URL input of a predict request.
type predictForm struct {
	ImageURL string `form:"image_url" validate:"omitempty,startswith=http://|startswith=https://"`
}

func (h *DetectionHandler) Index(ctx *fiber.Ctx) error {
	return ctx.Render(detection.IndexView, detection.PageView{})
}

func (h *DetectionHandler) Health(ctx *fiber.Ctx) error {
	errHandler := handlerUtil.New(h.log)
	return errHandler.HandleSuccess(ctx, fiber.StatusOK, detection.HealthResponse{
		Status:  "ok",
		Version: h.cfg.Version,
	})
}

func (h *DetectionHandler) PredictPage(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := contextPkg.ForDetection(ctx, requestID, h.cfg.Timeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	result, operation, err := h.predict(c, ctx, requestID)
	if err != nil {
		return errHandler.HandlePage(ctx, requestID, err, ctx.Path(), operation)
	}

	return ctx.Render(detection.IndexView, detection.NewResultView(result))
}

func (h *DetectionHandler) PredictAPI(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := contextPkg.ForDetection(ctx, requestID, h.cfg.Timeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	result, operation, err := h.predict(c, ctx, requestID)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), operation)
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, detection.NewPredictResponse(result.Detections, result.ImageURL))
}

// predict acquires the input image and runs detection on it. An uploaded
// file takes precedence over a URL. The returned operation names the step
// that failed.
func (h *DetectionHandler) predict(c context.Context, ctx *fiber.Ctx, requestID string) (*detection.DetectionResult, string, error) {
	var stored *detection.StoredImage

	file, err := ctx.FormFile(detection.ImageField)
	if err == nil && file.Filename != "" {
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"path":       ctx.Path(),
			"file_name":  file.Filename,
			"file_size":  file.Size,
		}).Debug("Processing file upload")

		stored, err = h.detectionService.AcquireUpload(c, file)
		if err != nil {
			return nil, "acquire_upload", err
		}
	} else {
		var form predictForm
		if err := ctx.BodyParser(&form); err != nil {
			h.log.WithFields(log.Fields{
				"request_id": requestID,
				"error":      err.Error(),
			}).Debug("Request body carries no form fields")
		}
		form.ImageURL = strings.TrimSpace(form.ImageURL)

		if err := h.validator.Struct(form); err != nil {
			return nil, "validate_image_url", detection.ErrInvalidURLScheme
		}
		if form.ImageURL == "" {
			return nil, "acquire_input", detection.ErrMissingInput
		}

		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"path":       ctx.Path(),
			"image_url":  form.ImageURL,
		}).Debug("Processing image URL")

		stored, err = h.detectionService.AcquireURL(c, form.ImageURL)
		if err != nil {
			return nil, "acquire_url", err
		}
	}

	result, err := h.detectionService.RunDetection(c, stored)
	if err != nil {
		return nil, "run_detection", err
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
		"source":     stored.Source,
		"detections": len(result.Detections),
	}).Info("Detection successful")

	return result, "", nil
}
