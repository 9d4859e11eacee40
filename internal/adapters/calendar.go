package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"inmocrm_backend/platform/config"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/phone"
)

// CalendarScheduler books follow-up slots through the calendar service. The
// service owns availability; the booking lands in the tenant's agent queue.
type CalendarScheduler struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type bookingRequest struct {
	TenantID string `json:"tenant_id"`
	LeadID   string `json:"lead_id"`
	Phone    string `json:"phone"`
}

func NewCalendarScheduler(cfg config.CalendarConfig, log *logger.Logger) *CalendarScheduler {
	if cfg.GetCalendarURL() == "" {
		return nil
	}

	return &CalendarScheduler{
		baseURL: strings.TrimRight(cfg.GetCalendarURL(), "/"),
		apiKey:  cfg.GetCalendarAPIKey(),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

func (c *CalendarScheduler) ScheduleMeeting(ctx context.Context, tenantID, leadID uuid.UUID, leadPhone string) error {
	if c == nil {
		return fmt.Errorf("calendar service not configured")
	}

	payload, err := json.Marshal(bookingRequest{
		TenantID: tenantID.String(),
		LeadID:   leadID.String(),
		Phone:    phone.NormalizeE164(leadPhone),
	})
	if err != nil {
		return fmt.Errorf("marshal booking payload: %w", err)
	}

	url := fmt.Sprintf("%s/bookings", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calendar request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("calendar service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Info("meeting requested", "lead_id", leadID.String())
	return nil
}
