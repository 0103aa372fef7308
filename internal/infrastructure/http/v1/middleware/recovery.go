// Package middleware holds the gin middleware of the operator API.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/pkg/logger"
)

// Recovery turns a handler panic into INTERNAL_ERROR. The stack is logged only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error(c.Request.Context(), "panic recovered",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			// ErrorHandler is already unwound; respond here.
			renderError(c, apperror.NewInternal(fmt.Errorf("panic: %v", r)))
		}()
		c.Next()
	}
}
