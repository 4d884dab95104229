package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const telegramAPIURL = "https://api.telegram.org"

// TelegramAlerter отправляет служебные оповещения оператору магазина
// через Telegram Bot API.
type TelegramAlerter struct {
	apiURL     string
	botToken   string
	chatID     string
	httpClient *http.Client
}

// NewTelegramAlerter создаёт клиент оповещений с указанным токеном бота и
// идентификатором чата оператора.
func NewTelegramAlerter(botToken, chatID string) *TelegramAlerter {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &TelegramAlerter{
		apiURL:     telegramAPIURL,
		botToken:   botToken,
		chatID:     chatID,
		httpClient: rc.StandardClient(),
	}
}

type sendMessagePayload struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Alert отправляет текстовое оповещение в чат оператора.
func (a *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if a == nil || a.botToken == "" || a.chatID == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(sendMessagePayload{ChatID: a.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(a.apiURL, "/"), a.botToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram api: %s", result.Description)
	}

	return nil
}
