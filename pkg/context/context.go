// Package context carries per-request values from the HTTP layer into the
// detection service, the downloader and the engines.
package context

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

type ctxKey int

const requestIDKey ctxKey = iota

// UnknownRequestID is reported when no request id was attached.
const UnknownRequestID = "unknown"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the id attached to ctx, or UnknownRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return UnknownRequestID
	}
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return UnknownRequestID
	}
	return requestID
}

// ForDetection derives the context a predict request runs under. It starts
// from the fiber user context, carries requestID and ends after timeout.
func ForDetection(c *fiber.Ctx, requestID string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := c.UserContext()
	if requestID != "" && RequestID(ctx) != requestID {
		ctx = WithRequestID(ctx, requestID)
	}
	return context.WithTimeout(ctx, timeout)
}
