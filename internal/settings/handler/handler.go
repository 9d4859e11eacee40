package handler

import (
	"net/http"

	"inmocrm_backend/internal/settings/service"
	"inmocrm_backend/internal/settings/transport"
	"inmocrm_backend/platform/httpkit"
	"inmocrm_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc *service.Store
	val *validator.Validator
}

func New(svc *service.Store, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/scoring", h.GetScoringConfig)
	rg.PUT("/scoring", httpkit.RequireRole("admin"), h.SaveScoringConfig)
}

// GetScoringConfig returns the tenant's effective scoring profile, which is
// the built-in default until the tenant saves its own.
func (h *Handler) GetScoringConfig(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	cfg, err := h.svc.ConfigFor(c.Request.Context(), id.TenantID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, transport.ScoringConfigResponse{Config: cfg})
}

// SaveScoringConfig replaces the tenant's scoring profile.
func (h *Handler) SaveScoringConfig(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req transport.SaveScoringConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	cfg := req.ToDomain()
	if err := h.svc.Save(c.Request.Context(), id.TenantID(), cfg); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, transport.ScoringConfigResponse{Config: cfg})
}
