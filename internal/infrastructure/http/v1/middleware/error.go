package middleware

import (
	"github.com/gin-gonic/gin"

	"ledgerbridge/internal/core/apperror"
	appctx "ledgerbridge/internal/core/context"
	"ledgerbridge/internal/infrastructure/http/v1/dto"
	"ledgerbridge/pkg/logger"
)

// ErrorHandler renders the last handler error as dto.ErrorResponse.
// Causes are logged, never returned to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr, ok := apperror.AsAppError(err)
		if !ok {
			appErr = apperror.NewInternal(err)
		}
		if appErr.Err != nil {
			logger.Error(c.Request.Context(), "request failed",
				"code", appErr.Code,
				"cause", appErr.Err,
			)
		}
		renderError(c, appErr)
	}
}

func renderError(c *gin.Context, appErr *apperror.AppError) {
	body := dto.ErrorResponse{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Retryable: apperror.IsRetryable(appErr),
	}
	if t, ok := appctx.TraceFrom(c.Request.Context()); ok {
		body.RequestID = t.RequestID
	}
	c.AbortWithStatusJSON(apperror.GetHTTPStatus(appErr), body)
}
