package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"colloquy/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// CheckRateLimit counts one hit of id against resource and reports whether it
// is still within limit for the current window. Rate limiting is disabled in
// the test and development environments.
func CheckRateLimit(
	ctx context.Context, rdb *redis.Client, env, resource, id string, limit int, window time.Duration,
) (bool, error) {
	switch env {
	case "", "test", "development":
		return true, nil
	}

	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}

// RateLimit returns a Fiber middleware enforcing limit requests per window
// for the named resource, keyed by viewer when authenticated and by IP
// otherwise. When Redis is unavailable requests are let through.
func RateLimit(rdb *redis.Client, env, resource string, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id string
		if vid := c.Locals(ViewerLocal); vid != nil {
			id = fmt.Sprintf("viewer:%v", vid)
		} else {
			id = "ip:" + c.IP()
		}

		allowed, err := CheckRateLimit(c.UserContext(), rdb, env, resource, id, limit, window)
		if err != nil {
			observability.Logger.WarnContext(c.UserContext(), "rate limit check failed, allowing request",
				slog.String("resource", resource),
				slog.String("error", err.Error()),
			)
			return c.Next()
		}
		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
