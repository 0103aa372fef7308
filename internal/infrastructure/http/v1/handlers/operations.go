package handlers

import (
	"github.com/gin-gonic/gin"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/internal/domain/posting"
	"ledgerbridge/internal/infrastructure/http/v1/dto"
	"ledgerbridge/pkg/logger"
)

// FlagStore is the runtime flag surface.
type FlagStore interface {
	Snapshot() map[string]bool
	SetFlag(flag string, enabled bool) bool
}

// OperationsHandler exposes claims, the breaker and runtime flags to operators.
type OperationsHandler struct {
	*BaseHandler
	claims  *posting.ClaimRegistry
	breaker *posting.Breaker
	flags   FlagStore
}

// NewOperationsHandler creates an operations handler.
func NewOperationsHandler(base *BaseHandler, claims *posting.ClaimRegistry, breaker *posting.Breaker, flags FlagStore) *OperationsHandler {
	return &OperationsHandler{
		BaseHandler: base,
		claims:      claims,
		breaker:     breaker,
		flags:       flags,
	}
}

// Claims handles GET /claims
func (h *OperationsHandler) Claims(c *gin.Context) {
	h.OK(c, dto.NewListResponse(h.claims.Snapshot()))
}

// Breaker handles GET /breaker
func (h *OperationsHandler) Breaker(c *gin.Context) {
	h.OK(c, h.breaker.Status())
}

// ResetBreaker handles POST /breaker/reset
func (h *OperationsHandler) ResetBreaker(c *gin.Context) {
	operator := h.Operator(c)
	was := h.breaker.Reset(operator)
	logger.Warn(c.Request.Context(), "breaker reset requested", "operator", operator, "was_tripped", was)

	h.OK(c, dto.BreakerResetResponse{WasTripped: was, Status: h.breaker.Status()})
}

// Flags handles GET /flags
func (h *OperationsHandler) Flags(c *gin.Context) {
	h.OK(c, dto.NewListResponse(dto.FromFlags(h.flags.Snapshot())))
}

// SetFlag handles PUT /flags/:name
func (h *OperationsHandler) SetFlag(c *gin.Context) {
	name := c.Param("name")

	var req dto.SetFlagRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if !h.flags.SetFlag(name, *req.Enabled) {
		h.Error(c, apperror.NewNotFound("flag", name))
		return
	}
	logger.Info(c.Request.Context(), "runtime flag changed",
		"flag", name, "enabled", *req.Enabled, "operator", h.Operator(c))

	h.OK(c, dto.FlagResponse{Name: name, Enabled: *req.Enabled})
}
