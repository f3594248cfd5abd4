package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"DetectionWeb/pkg/log"
)

func LoggerConfig() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID, ok := c.Locals(RequestIDKey).(string)
		if !ok || requestID == "" {
			requestID = "unknown"
		}

		c.Locals("request_id", requestID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()

		if err != nil && status == fiber.StatusInternalServerError {
			return err
		}

		logFields := log.Fields{
			"request_id":    requestID,
			"method":        c.Method(),
			"path":          c.Path(),
			"status":        status,
			"latency_ms":    latency.Milliseconds(),
			"ip":            c.IP(),
			"host":          c.Hostname(),
			"user_agent":    c.Get("User-Agent"),
			"referer":       c.Get("Referer"),
			"response_size": len(c.Response().Body()),
		}

		if body := c.Request().Body(); len(body) > 0 {
			logFields["request_body"] = describeRequestBody(string(c.Request().Header.ContentType()), c.FormValue("image_url"), len(body))
		}

		if status >= 500 {
			log.Error(logFields, "Server error")
		} else if status >= 400 {
			log.Warn(logFields, "Client error")
		} else {
			log.Info(logFields, "Success")
		}

		return err
	}
}

// describeRequestBody summarizes a body for the access log. Uploaded image
// bytes are never logged.
func describeRequestBody(contentType, imageURL string, size int) interface{} {
	if imageURL != "" {
		return log.Fields{"image_url": imageURL}
	}
	if strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
		return log.Fields{"multipart_bytes": size}
	}
	return log.Fields{"bytes": size}
}
