package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/internal/leads/repository"
	"inmocrm_backend/internal/leads/service"
	"inmocrm_backend/internal/leads/transport"
	"inmocrm_backend/platform/httpkit"
	"inmocrm_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Recomputer triggers the lifecycle chain for one lead.
type Recomputer interface {
	Recompute(ctx context.Context, tenantID, leadID uuid.UUID) error
}

type Handler struct {
	svc       *service.Service
	recompute Recomputer
	val       *validator.Validator
}

func New(svc *service.Service, recompute Recomputer, val *validator.Validator) *Handler {
	return &Handler{svc: svc, recompute: recompute, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/board-metrics", h.BoardMetrics)
	rg.GET("/:id", h.GetByID)
	rg.PATCH("/:id", h.UpdateContact)
	rg.DELETE("/:id", h.Delete)
	rg.POST("/:id/fields", h.UpdateFields)
	rg.POST("/:id/recompute", h.Recompute)
	rg.POST("/:id/stage", h.ChangeStage)
	rg.GET("/:id/stage-history", h.StageHistory)
}

func (h *Handler) Create(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req transport.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.Create(c.Request.Context(), service.CreateLeadInput{
		TenantID:       id.TenantID(),
		Phone:          req.Phone,
		Name:           req.Name,
		Email:          req.Email,
		CapturedFields: req.CapturedFields,
		AssignedTo:     req.AssignedTo,
		Tags:           req.Tags,
		Source:         req.Source,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.JSON(c, http.StatusCreated, lead)
}

func (h *Handler) List(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	params := repository.ListLeadsParams{TenantID: id.TenantID()}
	if stage := c.Query("stage"); stage != "" {
		value := domain.Stage(stage)
		params.Stage = &value
	}
	if status := c.Query("status"); status != "" {
		params.Status = &status
	}
	if qualification := c.Query("qualification"); qualification != "" {
		params.Qualification = &qualification
	}
	params.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	params.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	leads, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, transport.ListLeadsResponse{Leads: leads, Total: total})
}

func (h *Handler) GetByID(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	lead, err := h.svc.GetByID(c.Request.Context(), id.TenantID(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) UpdateContact(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.UpdateContact(c.Request.Context(), repository.UpdateContactParams{
		LeadID:     leadID,
		TenantID:   id.TenantID(),
		Name:       req.Name,
		Email:      req.Email,
		AssignedTo: req.AssignedTo,
		Tags:       req.Tags,
		Status:     req.Status,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) Delete(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id.TenantID(), leadID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateFields merges new captured facts and kicks off a recompute.
func (h *Handler) UpdateFields(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.UpdateFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.UpdateFields(c.Request.Context(), id.TenantID(), leadID, req.Fields)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, lead)
}

// Recompute re-runs the lifecycle chain. Idempotent and safe to call
// redundantly.
func (h *Handler) Recompute(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	if err := h.recompute.Recompute(c.Request.Context(), id.TenantID(), leadID); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	lead, err := h.svc.GetByID(c.Request.Context(), id.TenantID(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, lead)
}

// ChangeStage performs a manual stage transition.
func (h *Handler) ChangeStage(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.ChangeStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.ChangeStage(c.Request.Context(), id.TenantID(), leadID, domain.Stage(req.Stage), domain.ReasonManual)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) StageHistory(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	history, err := h.svc.StageHistory(c.Request.Context(), id.TenantID(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.StageHistoryResponse{History: history})
}

func (h *Handler) BoardMetrics(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	counts, averages, err := h.svc.StageMetrics(c.Request.Context(), id.TenantID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.BoardMetricsResponse{StageCounts: counts, AvgDaysPerStage: averages})
}
