package middleware

import (
	"errors"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"ledgerbridge/internal/core/apperror"
	appctx "ledgerbridge/internal/core/context"
	"ledgerbridge/internal/domain/auth"
)

// JWTValidator resolves a bearer token to an operator.
type JWTValidator interface {
	ValidateToken(tokenString string) (*appctx.OperatorContext, error)
}

// Auth requires "Authorization: Bearer <token>" and stores the operator in the request context.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "bearer token required")
			return
		}

		op, err := validator.ValidateToken(token)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			abortUnauthorized(c, "token expired")
			return
		case err != nil:
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Request = c.Request.WithContext(appctx.WithOperator(c.Request.Context(), op))
		c.Next()
	}
}

// RequireRole lets the request through when the operator holds any of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		op := appctx.GetOperator(c.Request.Context())
		if op == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		if slices.ContainsFunc(roles, func(r string) bool { return slices.Contains(op.Roles, r) }) {
			c.Next()
			return
		}
		_ = c.Error(apperror.NewForbidden("operator role required").WithDetail("required_roles", roles))
		c.Abort()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="ledgerbridge"`)
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
