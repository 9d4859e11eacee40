package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"inmocrm_backend/internal/campaigns/domain"
	leaddomain "inmocrm_backend/internal/leads/domain"
)

var (
	ErrNotFound = errors.New("campaign not found")
	// ErrDuplicateApplication is returned when a second concurrent
	// application of the same campaign for the same lead hits the partial
	// unique index. Given the per-lead serialization upstream this
	// indicates a caller bug.
	ErrDuplicateApplication = errors.New("lead already has an open application of this campaign")
)

const uniqueViolation = "23505"

// CampaignsRepository is the persistence surface of the campaign engine,
// declared as an interface so the scheduler service can be tested against
// an in-memory fake.
type CampaignsRepository interface {
	CreateCampaign(ctx context.Context, campaign *domain.Campaign) error
	UpdateCampaign(ctx context.Context, campaign *domain.Campaign) error
	GetCampaign(ctx context.Context, id, tenantID uuid.UUID) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID uuid.UUID, status *string) ([]*domain.Campaign, error)
	ListActiveCampaigns(ctx context.Context, tenantID uuid.UUID) ([]*domain.Campaign, error)
	DeleteCampaign(ctx context.Context, id, tenantID uuid.UUID) error

	CreateApplication(ctx context.Context, app *domain.CampaignApplication) error
	GetApplication(ctx context.Context, id, tenantID uuid.UUID) (*domain.CampaignApplication, error)
	HasOpenApplication(ctx context.Context, leadID, campaignID uuid.UUID) (bool, error)
	AdvanceApplication(ctx context.Context, id uuid.UUID, step int, nextDue *time.Time) error
	FinishApplication(ctx context.Context, id uuid.UUID, status string) error
	ListDueApplications(ctx context.Context, before time.Time, limit int) ([]*domain.CampaignApplication, error)

	AppendHistory(ctx context.Context, entry domain.HistoryEntry) error
	CountHistory(ctx context.Context, campaignID, leadID uuid.UUID) (int, error)
	ListHistory(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.HistoryEntry, error)

	AppendExecutionLog(ctx context.Context, entry domain.ExecutionLogEntry) error
	ListExecutionLog(ctx context.Context, tenantID, applicationID uuid.UUID) ([]domain.ExecutionLogEntry, error)
	ExecutionRates(ctx context.Context, tenantID uuid.UUID) (Rates, error)
	CampaignStats(ctx context.Context, campaignID, tenantID uuid.UUID) (Stats, error)

	CreateTemplate(ctx context.Context, tpl *domain.MessageTemplate) error
	ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]domain.MessageTemplate, error)
	GetTemplateBody(ctx context.Context, id, tenantID uuid.UUID) (string, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ CampaignsRepository = (*Repository)(nil)

func (r *Repository) CreateCampaign(ctx context.Context, campaign *domain.Campaign) error {
	condition, err := json.Marshal(campaign.TriggerCondition)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO campaigns (tenant_id, name, channel, status, triggered_by, trigger_condition, max_contacts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, campaign.TenantID, campaign.Name, campaign.Channel, campaign.Status,
		campaign.TriggeredBy, condition, campaign.MaxContacts,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return err
	}

	if err := insertSteps(ctx, tx, campaign); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) UpdateCampaign(ctx context.Context, campaign *domain.Campaign) error {
	condition, err := json.Marshal(campaign.TriggerCondition)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE campaigns
		SET name = $3, channel = $4, status = $5, triggered_by = $6,
		    trigger_condition = $7, max_contacts = $8, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, campaign.ID, campaign.TenantID, campaign.Name, campaign.Channel, campaign.Status,
		campaign.TriggeredBy, condition, campaign.MaxContacts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	// Steps are replaced wholesale; step edits on a live campaign are rare
	// and versioning them is not worth the complexity.
	if _, err := tx.Exec(ctx, `DELETE FROM campaign_steps WHERE campaign_id = $1`, campaign.ID); err != nil {
		return err
	}
	if err := insertSteps(ctx, tx, campaign); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertSteps(ctx context.Context, tx pgx.Tx, campaign *domain.Campaign) error {
	for i := range campaign.Steps {
		step := &campaign.Steps[i]
		conditions, err := json.Marshal(step.Conditions)
		if err != nil {
			return err
		}
		var target *string
		if step.TargetStage != nil {
			value := string(*step.TargetStage)
			target = &value
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO campaign_steps (campaign_id, step_number, action, delay_hours, message_template_id, message_text, conditions, target_stage)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, campaign.ID, step.StepNumber, step.Action, step.DelayHours,
			step.MessageTemplateID, step.MessageText, conditions, target,
		).Scan(&step.ID)
		if err != nil {
			return err
		}
		step.CampaignID = campaign.ID
	}
	return nil
}

func (r *Repository) GetCampaign(ctx context.Context, id, tenantID uuid.UUID) (*domain.Campaign, error) {
	campaigns, err := r.queryCampaigns(ctx, `
		SELECT id, tenant_id, name, channel, status, triggered_by, trigger_condition, max_contacts, created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return nil, ErrNotFound
	}
	return campaigns[0], nil
}

func (r *Repository) ListCampaigns(ctx context.Context, tenantID uuid.UUID, status *string) ([]*domain.Campaign, error) {
	if status != nil {
		return r.queryCampaigns(ctx, `
			SELECT id, tenant_id, name, channel, status, triggered_by, trigger_condition, max_contacts, created_at, updated_at
			FROM campaigns
			WHERE tenant_id = $1 AND status = $2
			ORDER BY created_at DESC
		`, tenantID, *status)
	}
	return r.queryCampaigns(ctx, `
		SELECT id, tenant_id, name, channel, status, triggered_by, trigger_condition, max_contacts, created_at, updated_at
		FROM campaigns
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
}

func (r *Repository) ListActiveCampaigns(ctx context.Context, tenantID uuid.UUID) ([]*domain.Campaign, error) {
	active := domain.StatusActive
	return r.ListCampaigns(ctx, tenantID, &active)
}

func (r *Repository) queryCampaigns(ctx context.Context, query string, args ...any) ([]*domain.Campaign, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := make([]*domain.Campaign, 0)
	byID := make(map[uuid.UUID]*domain.Campaign)
	for rows.Next() {
		var campaign domain.Campaign
		var condition []byte
		err := rows.Scan(
			&campaign.ID, &campaign.TenantID, &campaign.Name, &campaign.Channel, &campaign.Status,
			&campaign.TriggeredBy, &condition, &campaign.MaxContacts, &campaign.CreatedAt, &campaign.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(condition) > 0 {
			if err := json.Unmarshal(condition, &campaign.TriggerCondition); err != nil {
				return nil, err
			}
		}
		campaign.Steps = []domain.CampaignStep{}
		campaigns = append(campaigns, &campaign)
		byID[campaign.ID] = &campaign
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(campaigns) == 0 {
		return campaigns, nil
	}

	ids := make([]uuid.UUID, 0, len(campaigns))
	for _, campaign := range campaigns {
		ids = append(ids, campaign.ID)
	}
	stepRows, err := r.pool.Query(ctx, `
		SELECT id, campaign_id, step_number, action, delay_hours, message_template_id, message_text, conditions, target_stage
		FROM campaign_steps
		WHERE campaign_id = ANY($1)
		ORDER BY campaign_id, step_number
	`, ids)
	if err != nil {
		return nil, err
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var step domain.CampaignStep
		var conditions []byte
		var target *string
		err := stepRows.Scan(
			&step.ID, &step.CampaignID, &step.StepNumber, &step.Action, &step.DelayHours,
			&step.MessageTemplateID, &step.MessageText, &conditions, &target,
		)
		if err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &step.Conditions); err != nil {
				return nil, err
			}
		}
		if target != nil {
			stage := leaddomain.Stage(*target)
			step.TargetStage = &stage
		}
		if campaign, ok := byID[step.CampaignID]; ok {
			campaign.Steps = append(campaign.Steps, step)
		}
	}
	return campaigns, stepRows.Err()
}

func (r *Repository) DeleteCampaign(ctx context.Context, id, tenantID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM campaigns WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateApplication inserts a new application. The partial unique index on
// (lead_id, campaign_id) WHERE status = 'active' enforces the single-flight
// invariant at the database level regardless of caller behavior.
func (r *Repository) CreateApplication(ctx context.Context, app *domain.CampaignApplication) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO campaign_applications (tenant_id, campaign_id, lead_id, status, current_step, next_due_at, trigger, stage_at_application, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, app.TenantID, app.CampaignID, app.LeadID, app.Status, app.CurrentStep,
		app.NextDueAt, app.Trigger, string(app.StageAtApplication), app.AppliedAt,
	).Scan(&app.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateApplication
		}
		return err
	}
	return nil
}

func (r *Repository) GetApplication(ctx context.Context, id, tenantID uuid.UUID) (*domain.CampaignApplication, error) {
	var app domain.CampaignApplication
	var stage string
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, campaign_id, lead_id, status, current_step, next_due_at, trigger, stage_at_application, applied_at, finished_at
		FROM campaign_applications
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(
		&app.ID, &app.TenantID, &app.CampaignID, &app.LeadID, &app.Status, &app.CurrentStep,
		&app.NextDueAt, &app.Trigger, &stage, &app.AppliedAt, &app.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	app.StageAtApplication = leaddomain.Stage(stage)
	return &app, nil
}

func (r *Repository) HasOpenApplication(ctx context.Context, leadID, campaignID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM campaign_applications
			WHERE lead_id = $1 AND campaign_id = $2 AND status = 'active'
		)
	`, leadID, campaignID).Scan(&exists)
	return exists, err
}

func (r *Repository) AdvanceApplication(ctx context.Context, id uuid.UUID, step int, nextDue *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaign_applications
		SET current_step = $2, next_due_at = $3
		WHERE id = $1 AND status = 'active'
	`, id, step, nextDue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) FinishApplication(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaign_applications
		SET status = $2, next_due_at = NULL, finished_at = now()
		WHERE id = $1 AND status = 'active'
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueApplications returns open applications whose next step is due.
// Used by the scheduler's reconciliation sweep to recover work lost between
// enqueue and crash.
func (r *Repository) ListDueApplications(ctx context.Context, before time.Time, limit int) ([]*domain.CampaignApplication, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, campaign_id, lead_id, status, current_step, next_due_at, trigger, stage_at_application, applied_at, finished_at
		FROM campaign_applications
		WHERE status = 'active' AND next_due_at IS NOT NULL AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]*domain.CampaignApplication, 0)
	for rows.Next() {
		var app domain.CampaignApplication
		var stage string
		err := rows.Scan(
			&app.ID, &app.TenantID, &app.CampaignID, &app.LeadID, &app.Status, &app.CurrentStep,
			&app.NextDueAt, &app.Trigger, &stage, &app.AppliedAt, &app.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		app.StageAtApplication = leaddomain.Stage(stage)
		apps = append(apps, &app)
	}
	return apps, rows.Err()
}

func (r *Repository) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_history (tenant_id, campaign_id, lead_id, trigger, stage_at_application, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.TenantID, entry.CampaignID, entry.LeadID, entry.Trigger, string(entry.StageAtApplication), entry.AppliedAt)
	return err
}

func (r *Repository) CountHistory(ctx context.Context, campaignID, leadID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM campaign_history
		WHERE campaign_id = $1 AND lead_id = $2
	`, campaignID, leadID).Scan(&count)
	return count, err
}

func (r *Repository) ListHistory(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, campaign_id, lead_id, trigger, stage_at_application, applied_at
		FROM campaign_history
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY applied_at ASC, id ASC
	`, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var entry domain.HistoryEntry
		var stage string
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.CampaignID, &entry.LeadID, &entry.Trigger, &stage, &entry.AppliedAt); err != nil {
			return nil, err
		}
		entry.StageAtApplication = leaddomain.Stage(stage)
		history = append(history, entry)
	}
	return history, rows.Err()
}

func (r *Repository) AppendExecutionLog(ctx context.Context, entry domain.ExecutionLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO execution_log (tenant_id, campaign_id, lead_id, application_id, step_number, status, error, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.TenantID, entry.CampaignID, entry.LeadID, entry.ApplicationID,
		entry.StepNumber, entry.Status, entry.Error, entry.ExecutedAt)
	return err
}

func (r *Repository) ListExecutionLog(ctx context.Context, tenantID, applicationID uuid.UUID) ([]domain.ExecutionLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, campaign_id, lead_id, application_id, step_number, status, error, executed_at
		FROM execution_log
		WHERE tenant_id = $1 AND application_id = $2
		ORDER BY executed_at ASC, id ASC
	`, tenantID, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ExecutionLogEntry, 0)
	for rows.Next() {
		var entry domain.ExecutionLogEntry
		err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.CampaignID, &entry.LeadID, &entry.ApplicationID,
			&entry.StepNumber, &entry.Status, &entry.Error, &entry.ExecutedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Rates holds the executed-step aggregates for a tenant. Skipped steps are
// excluded from the denominator; they are condition outcomes, not delivery
// outcomes.
type Rates struct {
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`
}

func (r *Repository) ExecutionRates(ctx context.Context, tenantID uuid.UUID) (Rates, error) {
	var rates Rates
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'skipped')
		FROM execution_log
		WHERE tenant_id = $1
	`, tenantID).Scan(&rates.Sent, &rates.Failed, &rates.Skipped)
	if err != nil {
		return Rates{}, err
	}

	delivered := rates.Sent + rates.Failed
	if delivered > 0 {
		rates.SuccessRate = float64(rates.Sent) / float64(delivered)
		rates.FailureRate = float64(rates.Failed) / float64(delivered)
	}
	return rates, nil
}

// Stats summarizes one campaign's applications and step outcomes.
type Stats struct {
	ActiveApplications    int `json:"active_applications"`
	CompletedApplications int `json:"completed_applications"`
	FailedApplications    int `json:"failed_applications"`
	StepsSent             int `json:"steps_sent"`
	StepsFailed           int `json:"steps_failed"`
	StepsSkipped          int `json:"steps_skipped"`
}

func (r *Repository) CampaignStats(ctx context.Context, campaignID, tenantID uuid.UUID) (Stats, error) {
	var stats Stats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM campaign_applications
		WHERE campaign_id = $1 AND tenant_id = $2
	`, campaignID, tenantID).Scan(
		&stats.ActiveApplications, &stats.CompletedApplications, &stats.FailedApplications)
	if err != nil {
		return Stats{}, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'skipped')
		FROM execution_log
		WHERE campaign_id = $1 AND tenant_id = $2
	`, campaignID, tenantID).Scan(&stats.StepsSent, &stats.StepsFailed, &stats.StepsSkipped)
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (r *Repository) CreateTemplate(ctx context.Context, tpl *domain.MessageTemplate) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO message_templates (tenant_id, name, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, tpl.TenantID, tpl.Name, tpl.Body).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
}

func (r *Repository) ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]domain.MessageTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, body, created_at, updated_at
		FROM message_templates
		WHERE tenant_id = $1
		ORDER BY name ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := make([]domain.MessageTemplate, 0)
	for rows.Next() {
		var tpl domain.MessageTemplate
		if err := rows.Scan(&tpl.ID, &tpl.TenantID, &tpl.Name, &tpl.Body, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (r *Repository) GetTemplateBody(ctx context.Context, id, tenantID uuid.UUID) (string, error) {
	var body string
	err := r.pool.QueryRow(ctx, `
		SELECT body FROM message_templates
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return body, nil
}
