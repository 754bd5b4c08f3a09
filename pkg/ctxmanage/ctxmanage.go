package ctxmanage

import (
	"context"

	"github.com/gin-gonic/gin"
)

type ctxKey int

const traceIdKey ctxKey = 1

// TraceHeader is read from and echoed back on every request.
const TraceHeader = "X-Trace-Id"

func WithTraceId(ctx context.Context, traceId string) context.Context {
	return context.WithValue(ctx, traceIdKey, traceId)
}

// GetTraceIdOfRequest returns the trace id the Logger middleware stored on the request.
func GetTraceIdOfRequest(c *gin.Context) string {
	return GetTraceId(c.Request.Context())
}

func GetTraceId(ctx context.Context) string {
	traceId, ok := ctx.Value(traceIdKey).(string)
	if !ok {
		return "Unknown"
	}
	return traceId
}
