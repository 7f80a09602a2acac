package middleware

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"pasarchat/internal/infrastructure/ratelimit"
	"pasarchat/pkg/errors"
	"pasarchat/pkg/logger"
	"pasarchat/pkg/response"
)

// RateLimit throttles requests per client IP using the shared token buckets.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if allowed, wait := limiter.Allow(ip, ratelimit.ActionHTTPRequest); !allowed {
				logger.Warn("RATE LIMIT: blocked request from IP %s (retry in %v)", ip, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}
			return next(c)
		}
	}
}
