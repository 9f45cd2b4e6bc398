package middleware

import (
	"time"

	"telecare/pkg/logger"
	"telecare/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

// RequestLoggerMiddleware tags every request with an ID and logs its outcome
// with request-scoped fields pulled from the context.
func RequestLoggerMiddleware(base *zap.Logger) gin.HandlerFunc {
	ctxLogger := logger.NewContextLogger(base)

	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		// Auth middleware runs after this one, so the identity is only
		// known once the handler chain has finished.
		if identity, ok := IdentityFromContext(c); ok {
			ctx = logger.WithIdentity(ctx, string(identity))
		}

		ctxLogger.WithContext(ctx).Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
