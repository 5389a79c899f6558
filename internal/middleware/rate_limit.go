package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

// RateLimit limits requests per caller within a route group. Authenticated
// callers are keyed by user id, anonymous ones by client IP. Reads are not
// counted.
func RateLimit(group string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}
	retryAfter := strconv.Itoa(int(window.Round(time.Second).Seconds()))

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			if identity := CurrentIdentity(c); identity.Authenticated() {
				return group + ":user:" + strconv.FormatUint(uint64(identity.UserID), 10)
			}
			return group + ":ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return utils.Fail(c, fiber.StatusTooManyRequests, "rate limit exceeded", fiber.Map{"group": group})
		},
	})
}
