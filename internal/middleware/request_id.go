package middleware

import (
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"

	contextPkg "DetectionWeb/pkg/context"
	"DetectionWeb/pkg/utils"
)

const RequestIDKey = "X-Request-ID"

// Client supplied ids are written to logs and reused as trace ids, so only
// short token-like values are accepted.
var clientRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// NewRequestIDMiddleware tags every request with an id. A well formed
// X-Request-ID header is reused, otherwise a ULID is minted. The id is
// echoed back, stored in Locals and attached to the user context so the
// detection service logs under the same id.
func NewRequestIDMiddleware() fiber.Handler {
	ids := utils.New()

	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDKey)

		if !clientRequestID.MatchString(requestID) {
			requestID, _ = ids.NewULIDFromTimestamp(time.Now())
		}

		c.Locals(RequestIDKey, requestID)
		c.Set(RequestIDKey, requestID)
		c.SetUserContext(contextPkg.WithRequestID(c.UserContext(), requestID))

		return c.Next()
	}
}
