// Package adapters implements the outbound ports of the campaign engine:
// channel gateways for messages, calls and meeting bookings.
package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inmocrm_backend/platform/config"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/phone"
)

// WhatsAppSender delivers messages through a gowa-compatible gateway.
type WhatsAppSender struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type gowaRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func NewWhatsAppSender(cfg config.WhatsAppConfig, log *logger.Logger) *WhatsAppSender {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	return &WhatsAppSender{
		baseURL: strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:  cfg.GetWhatsAppKey(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (c *WhatsAppSender) SendMessage(ctx context.Context, to, body string) error {
	if c == nil {
		return fmt.Errorf("whatsapp gateway not configured")
	}

	normalized := strings.TrimPrefix(phone.NormalizeE164(to), "+")

	payload, err := json.Marshal(gowaRequest{Phone: normalized, Message: body})
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/send/message", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Info("whatsapp sent", "phone", normalized)
	return nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
