package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inmocrm_backend/internal/campaigns/service"
	"inmocrm_backend/internal/campaigns/transport"
	"inmocrm_backend/platform/httpkit"
	"inmocrm_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid id"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/execution-rates", h.ExecutionRates)
	rg.GET("/leads/:id/history", h.LeadHistory)
	rg.GET("/applications/:id/log", h.ApplicationLog)
	rg.GET("/:id", h.Get)
	rg.PUT("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
	rg.POST("/:id/status", h.SetStatus)
	rg.GET("/:id/stats", h.Stats)
	rg.POST("/:id/apply", h.Apply)
}

// RegisterTemplateRoutes mounts the message template routes on their own
// group so template ids stay out of the /campaigns/:id namespace.
func (h *Handler) RegisterTemplateRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.ListTemplates)
	rg.POST("", h.CreateTemplate)
}

func (h *Handler) List(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var status *string
	if raw := c.Query("status"); raw != "" {
		status = &raw
	}

	campaigns, err := h.svc.List(c.Request.Context(), id.TenantID(), status)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.ListCampaignsResponse{Campaigns: campaigns, Total: len(campaigns)})
}

func (h *Handler) Create(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req transport.SaveCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	campaign, err := h.svc.Create(c.Request.Context(), id.TenantID(), req.ToInput())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, campaign)
}

func (h *Handler) Get(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	campaignID, ok := parseID(c)
	if !ok {
		return
	}

	campaign, err := h.svc.Get(c.Request.Context(), id.TenantID(), campaignID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, campaign)
}

func (h *Handler) Update(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	campaignID, ok := parseID(c)
	if !ok {
		return
	}

	var req transport.SaveCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	campaign, err := h.svc.Update(c.Request.Context(), id.TenantID(), campaignID, req.ToInput())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, campaign)
}

func (h *Handler) Delete(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	campaignID, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id.TenantID(), campaignID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetStatus(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	campaignID, ok := parseID(c)
	if !ok {
		return
	}

	var req transport.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	campaign, err := h.svc.SetStatus(c.Request.Context(), id.TenantID(), campaignID, req.Status)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, campaign)
}

func (h *Handler) Stats(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	campaignID, ok := parseID(c)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(c.Request.Context(), id.TenantID(), campaignID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.CampaignStatsResponse{CampaignID: campaignID, Stats: stats})
}

// Apply starts the campaign against one lead on an operator's request.
func (h *Handler) Apply(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	campaignID, ok := parseID(c)
	if !ok {
		return
	}

	var req transport.ApplyCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if req.LeadID == uuid.Nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, "lead_id is required")
		return
	}

	app, err := h.svc.ApplyManual(c.Request.Context(), id.TenantID(), campaignID, req.LeadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, app)
}

func (h *Handler) ExecutionRates(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	rates, err := h.svc.ExecutionRates(c.Request.Context(), id.TenantID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.ExecutionRatesResponse{Rates: rates})
}

// LeadHistory lists every campaign ever applied to a lead.
func (h *Handler) LeadHistory(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	leadID, ok := parseID(c)
	if !ok {
		return
	}

	history, err := h.svc.LeadHistory(c.Request.Context(), id.TenantID(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.LeadHistoryResponse{History: history})
}

// ApplicationLog lists the per-step outcomes of one campaign application.
func (h *Handler) ApplicationLog(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	applicationID, ok := parseID(c)
	if !ok {
		return
	}

	entries, err := h.svc.ExecutionLog(c.Request.Context(), id.TenantID(), applicationID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.ExecutionLogResponse{Entries: entries})
}

func (h *Handler) ListTemplates(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	templates, err := h.svc.ListTemplates(c.Request.Context(), id.TenantID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.ListTemplatesResponse{Templates: templates})
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req transport.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	tpl, err := h.svc.CreateTemplate(c.Request.Context(), id.TenantID(), req.Name, req.Body)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, tpl)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}
