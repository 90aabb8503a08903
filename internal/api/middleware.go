package api

import (
	"fmt"
	"net/http"

	"tick-analytics/internal/logger"

	"github.com/gin-gonic/gin"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeaderKey)
		if requestID == "" {
			requestID = logger.NewCorrelationID()
		}
		c.Header(RequestIDHeaderKey, requestID)
		c.Set(RequestIDContextKey, requestID)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), requestID))
		c.Next()
	}
}

func ginLoggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(p gin.LogFormatterParams) string {
		return fmt.Sprintf("[api] %s %s \"%s %s\" %d %s\n",
			p.TimeStamp.Format("2006/01/02 15:04:05"),
			p.ClientIP,
			p.Method,
			p.Path,
			p.StatusCode,
			p.Latency,
		)
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
