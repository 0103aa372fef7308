package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appctx "ledgerbridge/internal/core/context"
	"ledgerbridge/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// Trace tags the request with caller-supplied or generated ids, echoes them
// back and stores log in the request context. Posting attempts started by
// the handler inherit the ids.
func Trace(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := appctx.Trace{
			TraceID:   headerOr(c, HeaderTraceID),
			RequestID: headerOr(c, HeaderRequestID),
			Origin:    appctx.OriginHTTP,
		}

		ctx := appctx.WithTrace(c.Request.Context(), t)
		if log != nil {
			ctx = logger.WithLogger(ctx, log)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderRequestID, t.RequestID)
		c.Header(HeaderTraceID, t.TraceID)
		c.Next()
	}
}

func headerOr(c *gin.Context, name string) string {
	if v := c.GetHeader(name); v != "" {
		return v
	}
	return uuid.NewString()
}
