package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inmocrm_backend/internal/leads/domain"
)

var ErrNotFound = errors.New("lead not found")

const leadColumns = `id, tenant_id, phone, name, email, captured_fields, lead_score, status,
	qualification, pipeline_stage, stage_entered_at, last_contacted_at, assigned_to, tags,
	created_at, updated_at`

// LeadsRepository is the persistence surface the lifecycle engine depends
// on. Declared as an interface so the orchestrator and services can be
// tested against an in-memory fake.
type LeadsRepository interface {
	Create(ctx context.Context, params CreateLeadParams) (domain.Lead, error)
	GetByID(ctx context.Context, id, tenantID uuid.UUID) (domain.Lead, error)
	GetByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (domain.Lead, error)
	List(ctx context.Context, params ListLeadsParams) ([]domain.Lead, int, error)
	MergeCapturedFields(ctx context.Context, id, tenantID uuid.UUID, fields domain.CapturedFields) (domain.Lead, error)
	UpdateContact(ctx context.Context, params UpdateContactParams) (domain.Lead, error)
	UpdateScore(ctx context.Context, id, tenantID uuid.UUID, score float64, status string) error
	UpdateQualification(ctx context.Context, id, tenantID uuid.UUID, qualification string) error
	UpdateStage(ctx context.Context, params UpdateStageParams) error
	TouchLastContacted(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error
	ListInactiveCandidates(ctx context.Context, olderThan time.Time, limit int) ([]domain.Lead, error)
	StageHistory(ctx context.Context, leadID, tenantID uuid.UUID) ([]StageTransition, error)
	Delete(ctx context.Context, id, tenantID uuid.UUID) error
	StageCounts(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]int, error)
	AvgDaysPerStage(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]float64, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ LeadsRepository = (*Repository)(nil)

type CreateLeadParams struct {
	TenantID       uuid.UUID
	Phone          string
	Name           *string
	Email          *string
	CapturedFields domain.CapturedFields
	AssignedTo     *uuid.UUID
	Tags           []string
}

func (r *Repository) Create(ctx context.Context, params CreateLeadParams) (domain.Lead, error) {
	fields := params.CapturedFields
	if fields == nil {
		fields = domain.CapturedFields{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return domain.Lead{}, err
	}
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, phone, name, email, captured_fields, assigned_to, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+leadColumns,
		params.TenantID, params.Phone, params.Name, params.Email, raw, params.AssignedTo, tags,
	)
	lead, err := scanLead(row)
	if err != nil {
		return domain.Lead{}, err
	}

	// Seed the stage history so time-in-stage metrics cover entrada.
	_, err = tx.Exec(ctx, `
		INSERT INTO lead_stage_history (tenant_id, lead_id, from_stage, to_stage, reason, changed_at)
		VALUES ($1, $2, NULL, $3, $4, $5)
	`, params.TenantID, lead.ID, string(domain.StageEntrada), "created", lead.CreatedAt)
	if err != nil {
		return domain.Lead{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

func (r *Repository) GetByID(ctx context.Context, id, tenantID uuid.UUID) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanLeadNotFound(row)
}

func (r *Repository) GetByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND phone = $2
	`, tenantID, phone)
	return scanLeadNotFound(row)
}

type ListLeadsParams struct {
	TenantID      uuid.UUID
	Stage         *domain.Stage
	Status        *string
	Qualification *string
	Limit         int
	Offset        int
}

// List filters leads for a tenant. Stage filtering always goes through
// COALESCE so leads with a null stage stay visible on the entrada column.
func (r *Repository) List(ctx context.Context, params ListLeadsParams) ([]domain.Lead, int, error) {
	where := "tenant_id = $1"
	args := []any{params.TenantID}

	if params.Stage != nil {
		args = append(args, string(*params.Stage))
		where += fmt.Sprintf(" AND COALESCE(pipeline_stage, 'entrada') = $%d", len(args))
	}
	if params.Status != nil {
		args = append(args, *params.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if params.Qualification != nil {
		args = append(args, *params.Qualification)
		where += fmt.Sprintf(" AND qualification = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM leads WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, params.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM leads
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, leadColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		leads = append(leads, lead)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return leads, total, nil
}

// MergeCapturedFields shallow-merges new facts over the stored map and
// returns the updated lead.
func (r *Repository) MergeCapturedFields(ctx context.Context, id, tenantID uuid.UUID, fields domain.CapturedFields) (domain.Lead, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return domain.Lead{}, err
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE leads
		SET captured_fields = captured_fields || $3::jsonb, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+leadColumns,
		id, tenantID, raw,
	)
	return scanLeadNotFound(row)
}

type UpdateContactParams struct {
	LeadID     uuid.UUID
	TenantID   uuid.UUID
	Name       *string
	Email      *string
	AssignedTo *uuid.UUID
	Tags       []string
	Status     *string
}

func (r *Repository) UpdateContact(ctx context.Context, params UpdateContactParams) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE leads
		SET name = COALESCE($3, name),
		    email = COALESCE($4, email),
		    assigned_to = COALESCE($5, assigned_to),
		    tags = COALESCE($6, tags),
		    status = COALESCE($7, status),
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+leadColumns,
		params.LeadID, params.TenantID, params.Name, params.Email, params.AssignedTo, params.Tags, params.Status,
	)
	return scanLeadNotFound(row)
}

func (r *Repository) UpdateScore(ctx context.Context, id, tenantID uuid.UUID, score float64, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET lead_score = $3, status = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, score, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateQualification(ctx context.Context, id, tenantID uuid.UUID, qualification string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET qualification = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, qualification)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type UpdateStageParams struct {
	LeadID    uuid.UUID
	TenantID  uuid.UUID
	FromStage domain.Stage
	ToStage   domain.Stage
	Reason    string
	At        time.Time
}

// UpdateStage moves a lead and records the transition in the stage history
// within one transaction.
func (r *Repository) UpdateStage(ctx context.Context, params UpdateStageParams) error {
	at := params.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE leads
		SET pipeline_stage = $3, stage_entered_at = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, params.LeadID, params.TenantID, string(params.ToStage), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO lead_stage_history (tenant_id, lead_id, from_stage, to_stage, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, params.TenantID, params.LeadID, string(params.FromStage), string(params.ToStage), params.Reason, at)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) TouchLastContacted(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET last_contacted_at = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, at)
	return err
}

// ListInactiveCandidates returns leads across all tenants whose last contact
// (or stage entry, for never-contacted leads) is older than the cutoff and
// that are still in a workable stage. Consumed by the inactivity sweep.
func (r *Repository) ListInactiveCandidates(ctx context.Context, olderThan time.Time, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE COALESCE(last_contacted_at, stage_entered_at) <= $1
		  AND COALESCE(pipeline_stage, 'entrada') NOT IN ('ganado', 'perdido')
		ORDER BY COALESCE(last_contacted_at, stage_entered_at) ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// StageTransition is one audit entry of the stage history.
type StageTransition struct {
	ID        int64         `json:"id"`
	LeadID    uuid.UUID     `json:"lead_id"`
	FromStage *domain.Stage `json:"from_stage,omitempty"`
	ToStage   domain.Stage  `json:"to_stage"`
	Reason    string        `json:"reason"`
	ChangedAt time.Time     `json:"changed_at"`
}

func (r *Repository) StageHistory(ctx context.Context, leadID, tenantID uuid.UUID) ([]StageTransition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, from_stage, to_stage, reason, changed_at
		FROM lead_stage_history
		WHERE lead_id = $1 AND tenant_id = $2
		ORDER BY changed_at ASC, id ASC
	`, leadID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]StageTransition, 0)
	for rows.Next() {
		var entry StageTransition
		var from *string
		var to string
		if err := rows.Scan(&entry.ID, &entry.LeadID, &from, &to, &entry.Reason, &entry.ChangedAt); err != nil {
			return nil, err
		}
		if from != nil {
			stage := domain.Stage(*from)
			entry.FromStage = &stage
		}
		entry.ToStage = domain.Stage(to)
		history = append(history, entry)
	}
	return history, rows.Err()
}

func (r *Repository) Delete(ctx context.Context, id, tenantID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM leads WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var lead domain.Lead
	var rawFields []byte
	var stage *string

	err := row.Scan(
		&lead.ID, &lead.TenantID, &lead.Phone, &lead.Name, &lead.Email, &rawFields,
		&lead.LeadScore, &lead.Status, &lead.Qualification, &stage, &lead.StageEnteredAt,
		&lead.LastContactedAt, &lead.AssignedTo, &lead.Tags, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}

	lead.CapturedFields = domain.CapturedFields{}
	if len(rawFields) > 0 {
		if err := json.Unmarshal(rawFields, &lead.CapturedFields); err != nil {
			return domain.Lead{}, err
		}
	}
	if stage != nil {
		value := domain.Stage(*stage)
		lead.PipelineStage = &value
	}
	return lead, nil
}

func scanLeadNotFound(row rowScanner) (domain.Lead, error) {
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lead{}, ErrNotFound
		}
		return domain.Lead{}, err
	}
	return lead, nil
}
