package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"go.uber.org/zap"
)

var quietPaths = map[string]bool{
	"/healthz":      true,
	"/health/ready": true,
	"/metrics":      true,
}

// RequestLogger logs one line per request. 5xx responses log at error level,
// 4xx at warn; health and scrape endpoints are skipped unless they fail.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		path := c.Request.URL.Path
		if quietPaths[path] && status < http.StatusInternalServerError {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if id, err := GetUserID(c); err == nil {
			role, _ := GetUserRole(c)
			fields = append(fields, zap.Int64("caller_id", id), zap.String("caller_role", role))
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("Request failed", append(fields, zap.String("errors", c.Errors.String()))...)
		case status >= http.StatusBadRequest:
			log.Warn("Request rejected", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	}
}
