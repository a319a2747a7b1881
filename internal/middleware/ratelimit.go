package middleware

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/ratelimit"
)

// Checker is satisfied by *ratelimit.Limiter.
type Checker interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Result
}

// RateLimit throttles requests per caller in namespace. The caller is the
// authenticated principal, or the client IP when there is none. Whether a
// store failure lets requests through is the limiter's policy.
func RateLimit(l Checker, namespace string, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := PrincipalID(c)
		if id == "" {
			id = c.IP()
		}

		res := l.Check(c.UserContext(), ratelimit.Key(namespace, id), limit, window)

		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.ResetAt.IsZero() {
			c.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		}

		if !res.Allowed {
			if res.Degraded {
				return reject(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", true)
			}
			if !res.ResetAt.IsZero() {
				retry := int(math.Ceil(time.Until(res.ResetAt).Seconds()))
				if retry < 1 {
					retry = 1
				}
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
			}
			return reject(c, fiber.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later", true)
		}
		return c.Next()
	}
}
