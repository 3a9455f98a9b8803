package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/store-loyalty/pkg/common"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"github.com/richxcame/store-loyalty/pkg/middleware"
	"go.uber.org/zap"
)

// Middleware limits requests per caller and route. It must run after AuthMiddleware
// for authenticated callers to be keyed by entity id; others are keyed by client IP.
// Redis failures let the request through.
func Middleware(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		identityType := IdentityAnonymous
		identity := "ip:" + c.ClientIP()
		if id, err := middleware.GetUserID(c); err == nil {
			role, _ := middleware.GetUserRole(c)
			identityType = IdentityAuthenticated
			identity = role + ":" + strconv.FormatInt(id, 10)
		}

		rule := l.RuleFor(endpoint, identityType)
		result, err := l.Allow(c.Request.Context(), endpoint, identity, rule, identityType)
		if err != nil {
			logger.WithContext(c.Request.Context()).Warn("rate limiter unavailable, allowing request",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retry := int(math.Ceil(result.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			common.ErrorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}
