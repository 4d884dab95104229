// Package notify содержит клиенты побочных каналов уведомлений: SMS для
// покупателей и Telegram для оператора. Отказы каналов логируются вызывающей
// стороной и никогда не влияют на основной переход состояния заказа.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotConfigured возвращается, если у клиента не задан адрес или ключ провайдера.
var ErrNotConfigured = errors.New("notification channel is not configured")

// SMSClient отправляет SMS через HTTP API провайдера.
type SMSClient struct {
	baseURL    string
	apiKey     string
	sender     string
	httpClient *http.Client
}

// NewSMSClient создаёт клиент SMS-провайдера.
func NewSMSClient(baseURL, apiKey, sender string) *SMSClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &SMSClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sender:     sender,
		httpClient: rc.StandardClient(),
	}
}

type smsPayload struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// Send отправляет сообщение на указанный номер телефона.
func (c *SMSClient) Send(ctx context.Context, phone, text string) error {
	if c == nil || c.baseURL == "" || c.apiKey == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(smsPayload{To: phone, From: c.sender, Text: text})
	if err != nil {
		return fmt.Errorf("marshal sms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider status: %d", resp.StatusCode)
	}

	return nil
}
