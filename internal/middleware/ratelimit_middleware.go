package middleware

import (
	"fmt"
	"time"

	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/cache"

	"github.com/gin-gonic/gin"
)

// IPRateLimitMiddleware bounds unauthenticated endpoints (the /config
// bootstrap) per client IP per minute, using shared counters when redis is
// up and local ones otherwise.
func IPRateLimitMiddleware(manager *cache.Manager, perMinute int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ip_rate:%s:%s", c.ClientIP(), time.Now().UTC().Format("2006-01-02-15-04"))

		count, err := manager.IncrementWithTTL(c.Request.Context(), key, time.Minute)
		if err != nil {
			// A broken limiter must not take the endpoint down.
			c.Next()
			return
		}

		if count > perMinute {
			apperrors.Respond(c, apperrors.RateLimit("ip_rate_limited",
				"too many requests from this address", time.Minute))
			return
		}

		c.Next()
	}
}
