package middleware

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/store-loyalty/pkg/common"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"go.uber.org/zap"
)

// Recovery turns a panic into a 500 envelope. The panic is logged with its stack and,
// when sentrygin attached a hub, reported with the request id as a tag.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			logger.WithContext(c.Request.Context()).Error("Panic recovered",
				zap.Any("panic", rec),
				zap.String("route", c.FullPath()),
				zap.String("method", c.Request.Method),
				zap.Stack("stack"),
			)

			if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("request_id", GetCorrelationID(c))
					hub.CaptureException(fmt.Errorf("panic: %v", rec))
				})
			}

			common.AppErrorResponse(c, common.NewInternalServerError("internal server error"))
			c.Abort()
		}()

		c.Next()
	}
}
