package middleware

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/service"
	"github.com/noah-isme/ictu-erp-api/pkg/config"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

// WindowCounter increments a fixed-window counter and reports the time left in it.
type WindowCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimit caps requests per client IP and route. Without a counter backend, or when
// the backend fails, requests pass through.
func RateLimit(counter WindowCounter, cfg config.RateLimitConfig, metrics *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := int64(cfg.MaxRequests)
	return func(c *gin.Context) {
		if !cfg.Enabled || counter == nil || limit <= 0 {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := "ratelimit:" + c.ClientIP() + ":" + route

		count, ttl, err := counter.Increment(c.Request.Context(), key, cfg.Window)
		if err != nil {
			if !appErrors.Is(err, appErrors.ErrCacheMiss) {
				logger.Warn("rate limit counter unavailable", zap.Error(err))
			}
			c.Next()
			return
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > limit {
			if ttl <= 0 {
				ttl = cfg.Window
			}
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(ttl.Seconds()))))
			metrics.RecordRateLimited(route)
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
