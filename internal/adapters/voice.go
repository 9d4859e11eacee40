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

	"inmocrm_backend/platform/config"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/phone"
)

// VoiceCaller starts outbound calls through the voice provider's REST API.
type VoiceCaller struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type voiceCallRequest struct {
	To string `json:"to"`
}

func NewVoiceCaller(cfg config.VoiceConfig, log *logger.Logger) *VoiceCaller {
	if cfg.GetVoiceURL() == "" {
		return nil
	}

	return &VoiceCaller{
		baseURL: strings.TrimRight(cfg.GetVoiceURL(), "/"),
		apiKey:  cfg.GetVoiceAPIKey(),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

func (c *VoiceCaller) PlaceCall(ctx context.Context, to string) error {
	if c == nil {
		return fmt.Errorf("voice provider not configured")
	}

	normalized := phone.NormalizeE164(to)
	payload, err := json.Marshal(voiceCallRequest{To: normalized})
	if err != nil {
		return fmt.Errorf("marshal voice payload: %w", err)
	}

	url := fmt.Sprintf("%s/calls", c.baseURL)
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
		return fmt.Errorf("voice request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("voice provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Info("outbound call placed", "phone", normalized)
	return nil
}
