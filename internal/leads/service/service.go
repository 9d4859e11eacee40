// Package service implements lead CRUD, fact updates and the stage
// transition entry points. Recompute orchestration lives one level up in
// the leads package.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"inmocrm_backend/internal/events"
	"inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/internal/leads/repository"
	"inmocrm_backend/platform/apperr"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/phone"
)

type Service struct {
	repo repository.LeadsRepository
	bus  events.Bus
	log  *logger.Logger
}

func New(repo repository.LeadsRepository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log}
}

type CreateLeadInput struct {
	TenantID       uuid.UUID
	Phone          string
	Name           *string
	Email          *string
	CapturedFields domain.CapturedFields
	AssignedTo     *uuid.UUID
	Tags           []string
	Source         string
}

// Create registers a new lead. The phone is normalized to E.164 and is
// unique per tenant.
func (s *Service) Create(ctx context.Context, input CreateLeadInput) (domain.Lead, error) {
	if !phone.IsValid(input.Phone) {
		return domain.Lead{}, apperr.BadRequest("invalid phone number")
	}
	normalized := phone.NormalizeE164(input.Phone)

	if _, err := s.repo.GetByPhone(ctx, input.TenantID, normalized); err == nil {
		return domain.Lead{}, apperr.Conflict("a lead with this phone already exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.Lead{}, err
	}

	if err := validateCapturedFields(input.CapturedFields); err != nil {
		return domain.Lead{}, err
	}

	lead, err := s.repo.Create(ctx, repository.CreateLeadParams{
		TenantID:       input.TenantID,
		Phone:          normalized,
		Name:           input.Name,
		Email:          input.Email,
		CapturedFields: input.CapturedFields,
		AssignedTo:     input.AssignedTo,
		Tags:           input.Tags,
	})
	if err != nil {
		return domain.Lead{}, err
	}

	s.bus.Publish(ctx, events.LeadCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		Phone:     lead.Phone,
		Source:    input.Source,
	})
	return lead, nil
}

func (s *Service) GetByID(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	lead, err := s.repo.GetByID(ctx, leadID, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Lead{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, err
	}
	return lead, nil
}

func (s *Service) List(ctx context.Context, params repository.ListLeadsParams) ([]domain.Lead, int, error) {
	if params.Stage != nil && !domain.IsValidStage(*params.Stage) {
		return nil, 0, apperr.BadRequest(fmt.Sprintf("unknown pipeline stage %q", *params.Stage))
	}
	return s.repo.List(ctx, params)
}

// UpdateFields merges newly captured facts into the lead. This is the entry
// point used by the fact extractor and by campaign step effects; every call
// publishes a fields-updated event that drives a recompute.
func (s *Service) UpdateFields(ctx context.Context, tenantID, leadID uuid.UUID, fields domain.CapturedFields) (domain.Lead, error) {
	if len(fields) == 0 {
		return domain.Lead{}, apperr.BadRequest("no fields to update")
	}
	if err := validateCapturedFields(fields); err != nil {
		return domain.Lead{}, err
	}

	lead, err := s.repo.MergeCapturedFields(ctx, leadID, tenantID, fields)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Lead{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, err
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	s.bus.Publish(ctx, events.LeadFieldsUpdated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		Fields:    names,
	})
	return lead, nil
}

func (s *Service) UpdateContact(ctx context.Context, params repository.UpdateContactParams) (domain.Lead, error) {
	if params.Status != nil {
		switch *params.Status {
		case domain.StatusCold, domain.StatusWarm, domain.StatusHot, domain.StatusConverted, domain.StatusLost:
		default:
			return domain.Lead{}, apperr.BadRequest(fmt.Sprintf("unknown status %q", *params.Status))
		}
	}
	lead, err := s.repo.UpdateContact(ctx, params)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Lead{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, err
	}
	return lead, nil
}

// ChangeStage performs one stage transition of any kind. The reason encodes
// the kind: "manual", "auto", or "campaign:<id>". Automatic transitions may
// not enter or leave a terminal stage; that is a caller bug and is rejected
// loudly rather than absorbed.
func (s *Service) ChangeStage(ctx context.Context, tenantID, leadID uuid.UUID, to domain.Stage, reason string) (domain.Lead, error) {
	if !domain.IsValidStage(to) {
		return domain.Lead{}, apperr.BadRequest(fmt.Sprintf("unknown pipeline stage %q", to))
	}

	lead, err := s.GetByID(ctx, tenantID, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	from := lead.EffectiveStage()

	if reason == domain.ReasonAuto && (domain.IsTerminalStage(from) || domain.IsTerminalStage(to)) {
		return domain.Lead{}, apperr.Internal("automatic transition touching a terminal stage")
	}

	now := time.Now().UTC()
	err = s.repo.UpdateStage(ctx, repository.UpdateStageParams{
		LeadID:    leadID,
		TenantID:  tenantID,
		FromStage: from,
		ToStage:   to,
		Reason:    reason,
		At:        now,
	})
	if err != nil {
		return domain.Lead{}, err
	}

	s.log.StageTransition(leadID.String(), string(from), string(to), reason)

	// Synchronous so campaign trigger matching observes the transition
	// inside the caller's per-lead critical section.
	if err := s.bus.PublishSync(ctx, events.PipelineStageChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		TenantID:  tenantID,
		OldStage:  string(from),
		NewStage:  string(to),
		Reason:    reason,
	}); err != nil {
		s.log.Error("stage change event handling failed", "leadId", leadID, "error", err)
	}

	lead.PipelineStage = &to
	lead.StageEnteredAt = now
	return lead, nil
}

func (s *Service) StageHistory(ctx context.Context, tenantID, leadID uuid.UUID) ([]repository.StageTransition, error) {
	if _, err := s.GetByID(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	return s.repo.StageHistory(ctx, leadID, tenantID)
}

func (s *Service) Delete(ctx context.Context, tenantID, leadID uuid.UUID) error {
	err := s.repo.Delete(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("lead not found")
	}
	return err
}

// MarkContacted records an outbound touch, resetting the inactivity clock.
func (s *Service) MarkContacted(ctx context.Context, tenantID, leadID uuid.UUID) error {
	return s.repo.TouchLastContacted(ctx, leadID, tenantID, time.Now().UTC())
}

// StageMetrics aggregates board metrics for a tenant.
func (s *Service) StageMetrics(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]int, map[domain.Stage]float64, error) {
	counts, err := s.repo.StageCounts(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	averages, err := s.repo.AvgDaysPerStage(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return counts, averages, nil
}

func validateCapturedFields(fields domain.CapturedFields) error {
	if status := fields.String(domain.FieldDicomStatus); status != "" {
		switch status {
		case domain.DicomClean, domain.DicomHasDebt, domain.DicomUnknown:
		default:
			return apperr.BadRequest(fmt.Sprintf("unknown dicom_status %q", status))
		}
	}
	for _, key := range []string{domain.FieldMonthlyIncome, domain.FieldMorosidadAmount, domain.FieldBudget} {
		if fields.Present(key) {
			if value, ok := fields.Number(key); !ok || value < 0 {
				return apperr.BadRequest(fmt.Sprintf("%s must be a non-negative number", key))
			}
		}
	}
	for key := range fields {
		if strings.TrimSpace(key) == "" {
			return apperr.BadRequest("field names must not be empty")
		}
	}
	return nil
}
