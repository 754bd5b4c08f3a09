package middleware

import (
	"log/slog"
	"time"

	"enrollment-service/pkg/ctxmanage"
	"enrollment-service/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Logger assigns a trace id to the request (reusing the caller's X-Trace-Id when present)
// and logs one line per request once the handler chain finished.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceId := c.GetHeader(ctxmanage.TraceHeader)
		if traceId == "" {
			traceId = uuid.NewString()
		}
		c.Request = c.Request.WithContext(ctxmanage.WithTraceId(c.Request.Context(), traceId))
		c.Writer.Header().Set(ctxmanage.TraceHeader, traceId)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}
		slog.LogAttrs(c.Request.Context(), level, "request completed",
			slog.String(logkey.TraceID, traceId),
			slog.String("Method", c.Request.Method),
			slog.String("URL Path", c.Request.URL.Path),
			slog.Int("Status Code", status),
			slog.Duration("Latency", time.Since(start)),
		)
	}
}
