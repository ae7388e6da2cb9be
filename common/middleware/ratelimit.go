package middleware

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/common/ratelimit"
)

// isInternalRequest reports whether the request comes from another
// service. Internal callers present a shared secret and bypass limits.
func isInternalRequest(c echo.Context) bool {
	internalHeader := c.Request().Header.Get("X-Internal-Service")
	if internalHeader == "" {
		return false
	}
	expectedSecret := os.Getenv("INTERNAL_SERVICE_SECRET")
	if expectedSecret == "" {
		return false
	}
	return internalHeader == expectedSecret
}

// GlobalRateLimit applies the service-wide request limit. Errors from
// the limiter fail open; availability beats strictness here.
func GlobalRateLimit(limiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			result, err := limiter.CheckGlobalLimit(c.Request().Context(), limit)
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":               "global_rate_limit_exceeded",
					"limit":               result.Limit,
					"retry_after_seconds": result.RetryAfterSeconds,
				})
			}
			return next(c)
		}
	}
}

// UserRateLimit applies a per-user request limit. Requires the username
// to be placed in context by ExtractUsername.
func UserRateLimit(limiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			username, ok := c.Get("username").(string)
			if !ok || username == "" {
				return next(c)
			}

			result, err := limiter.CheckUserLimit(c.Request().Context(), username, limit, 60)
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":               "user_rate_limit_exceeded",
					"username":            username,
					"limit":               result.Limit,
					"current_count":       result.CurrentCount,
					"retry_after_seconds": result.RetryAfterSeconds,
				})
			}
			return next(c)
		}
	}
}
