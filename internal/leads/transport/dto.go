// Package transport defines request and response DTOs for the leads HTTP API.
package transport

import (
	"github.com/google/uuid"

	"inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/internal/leads/repository"
)

type CreateLeadRequest struct {
	Phone          string         `json:"phone" validate:"required"`
	Name           *string        `json:"name,omitempty"`
	Email          *string        `json:"email,omitempty" validate:"omitempty,email"`
	CapturedFields map[string]any `json:"captured_fields,omitempty"`
	AssignedTo     *uuid.UUID     `json:"assigned_to,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Source         string         `json:"source,omitempty"`
}

type UpdateContactRequest struct {
	Name       *string    `json:"name,omitempty"`
	Email      *string    `json:"email,omitempty" validate:"omitempty,email"`
	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Status     *string    `json:"status,omitempty"`
}

// UpdateFieldsRequest carries captured facts from the conversation layer or
// a manual edit.
type UpdateFieldsRequest struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

type ChangeStageRequest struct {
	Stage string `json:"stage" validate:"required"`
}

type ListLeadsResponse struct {
	Leads []domain.Lead `json:"leads"`
	Total int           `json:"total"`
}

type StageHistoryResponse struct {
	History []repository.StageTransition `json:"history"`
}

type BoardMetricsResponse struct {
	StageCounts     map[domain.Stage]int     `json:"stage_counts"`
	AvgDaysPerStage map[domain.Stage]float64 `json:"avg_days_per_stage"`
}
