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
)

// TelegramSender delivers messages through the Telegram Bot API. The chat is
// addressed by the identifier stored for the lead, which for leads captured
// through the bot is the chat id.
type TelegramSender struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

type telegramRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewTelegramSender(cfg config.TelegramConfig, log *logger.Logger) *TelegramSender {
	if cfg.GetTelegramToken() == "" {
		return nil
	}

	return &TelegramSender{
		baseURL: strings.TrimRight(cfg.GetTelegramURL(), "/"),
		token:   cfg.GetTelegramToken(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (c *TelegramSender) SendMessage(ctx context.Context, to, body string) error {
	if c == nil {
		return fmt.Errorf("telegram bot not configured")
	}

	payload, err := json.Marshal(telegramRequest{ChatID: to, Text: body})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	var parsed telegramResponse
	if err := json.Unmarshal(data, &parsed); err != nil || !parsed.OK {
		return fmt.Errorf("telegram send failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Info("telegram sent", "chat_id", to)
	return nil
}
