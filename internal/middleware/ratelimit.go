package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dadyutenga/ShopApI/internal/abuse"
	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/config"
	"github.com/dadyutenga/ShopApI/internal/domain"
)

// RateLimiter throttles requests per client IP using the shared abuse
// counters, so HTTP-level limiting and in-core limiting share one
// fixed-window semantic.
type RateLimiter struct {
	limiter *abuse.Limiter
	maxRPM  int
}

// NewRateLimiter builds the request-level limiter. A non-positive limit
// disables it.
func NewRateLimiter(limiter *abuse.Limiter, cfg config.Config) *RateLimiter {
	if cfg.RateLimitRPM <= 0 {
		return nil
	}
	return &RateLimiter{limiter: limiter, maxRPM: cfg.RateLimitRPM}
}

// Handler returns the gin middleware.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := r.limiter.EnforceRate(c.Request.Context(), "rate:http:"+c.ClientIP(), time.Minute, r.maxRPM)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				c.Header("Retry-After", "60")
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "error_description": "Too many requests."})
				return
			}
			if errors.Is(err, cache.ErrUnavailable) {
				// Fail closed: do not wave traffic through while the
				// counters are unreachable.
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		c.Next()
	}
}
