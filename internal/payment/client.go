// Package payment предоставляет клиент платёжного шлюза: инициализацию платежа,
// запрос состояния и проверку подписи уведомлений.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Статусы платежа в словаре шлюза.
const (
	StatusConfirmed = "CONFIRMED"
	StatusRejected  = "REJECTED"
)

// ErrReceiptMismatch возвращается, если сумма позиций чека не равна сумме платежа.
// Это ошибка формирования запроса: до сетевого вызова дело не доходит.
var ErrReceiptMismatch = errors.New("receipt items do not sum to payment amount")

// ErrGatewayDeclined возвращается, если шлюз ответил Success=false.
var ErrGatewayDeclined = errors.New("gateway declined request")

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
// Все запросы подписываются токеном на основе общего секрета.
type Client struct {
	baseURL     string
	terminalKey string
	password    string
	httpClient  *http.Client
}

// NewClient создаёт клиент шлюза. Транспорт повторяет временно неуспешные
// запросы ограниченное число раз.
func NewClient(baseURL, terminalKey, password string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		terminalKey: terminalKey,
		password:    password,
		httpClient:  rc.StandardClient(),
	}
}

// ReceiptItem — позиция фискального чека. Amount в копейках.
type ReceiptItem struct {
	Name     string `json:"Name"`
	Price    int64  `json:"Price"`
	Quantity int    `json:"Quantity"`
	Amount   int64  `json:"Amount"`
	Tax      string `json:"Tax"`
}

// Receipt — фискальный чек, прикладываемый к платежу.
type Receipt struct {
	Email    string        `json:"Email,omitempty"`
	Phone    string        `json:"Phone,omitempty"`
	Taxation string        `json:"Taxation"`
	Items    []ReceiptItem `json:"Items"`
}

// InitRequest — параметры инициализации платёжной сессии. Amount в копейках.
type InitRequest struct {
	Amount          int64
	OrderID         string
	Description     string
	Receipt         *Receipt
	NotificationURL string
	SuccessURL      string
	FailURL         string
}

// InitResult — результат инициализации платежа.
type InitResult struct {
	PaymentID  string
	PaymentURL string
	Status     string
}

// State — текущее состояние платежа по данным шлюза.
type State struct {
	Status     string
	ReceiptURL string
}

// Notification — асинхронное уведомление шлюза о смене состояния платежа.
type Notification struct {
	TerminalKey string `json:"TerminalKey"`
	OrderID     string `json:"OrderId"`
	Success     bool   `json:"Success"`
	Status      string `json:"Status"`
	PaymentID   int64  `json:"PaymentId"`
	Amount      int64  `json:"Amount"`
	ErrorCode   string `json:"ErrorCode"`
	Token       string `json:"Token"`
}

type initPayload struct {
	TerminalKey     string   `json:"TerminalKey"`
	Amount          int64    `json:"Amount"`
	OrderID         string   `json:"OrderId"`
	Description     string   `json:"Description,omitempty"`
	Token           string   `json:"Token"`
	NotificationURL string   `json:"NotificationURL,omitempty"`
	SuccessURL      string   `json:"SuccessURL,omitempty"`
	FailURL         string   `json:"FailURL,omitempty"`
	Receipt         *Receipt `json:"Receipt,omitempty"`
}

type gatewayResponse struct {
	Success    bool   `json:"Success"`
	ErrorCode  string `json:"ErrorCode"`
	Message    string `json:"Message"`
	Status     string `json:"Status"`
	PaymentID  string `json:"PaymentId"`
	PaymentURL string `json:"PaymentURL"`
	OrderID    string `json:"OrderId"`
	ReceiptURL string `json:"ReceiptUrl"`
}

// Init создаёт платёжную сессию и возвращает её идентификатор и URL оплаты.
// Перед отправкой проверяется, что позиции чека в сумме дают Amount.
func (c *Client) Init(ctx context.Context, req InitRequest) (*InitResult, error) {
	if req.Receipt != nil {
		var sum int64
		for _, it := range req.Receipt.Items {
			sum += it.Amount
		}
		if sum != req.Amount {
			return nil, fmt.Errorf("%w: items %d, amount %d", ErrReceiptMismatch, sum, req.Amount)
		}
	}

	payload := initPayload{
		TerminalKey:     c.terminalKey,
		Amount:          req.Amount,
		OrderID:         req.OrderID,
		Description:     req.Description,
		NotificationURL: req.NotificationURL,
		SuccessURL:      req.SuccessURL,
		FailURL:         req.FailURL,
		Receipt:         req.Receipt,
	}
	payload.Token = c.token(map[string]string{
		"TerminalKey":     payload.TerminalKey,
		"Amount":          strconv.FormatInt(payload.Amount, 10),
		"OrderId":         payload.OrderID,
		"Description":     payload.Description,
		"NotificationURL": payload.NotificationURL,
		"SuccessURL":      payload.SuccessURL,
		"FailURL":         payload.FailURL,
	})

	resp, err := c.post(ctx, "/Init", payload)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: code %s, %s", ErrGatewayDeclined, resp.ErrorCode, resp.Message)
	}

	return &InitResult{
		PaymentID:  resp.PaymentID,
		PaymentURL: resp.PaymentURL,
		Status:     resp.Status,
	}, nil
}

type getStatePayload struct {
	TerminalKey string `json:"TerminalKey"`
	PaymentID   string `json:"PaymentId"`
	Token       string `json:"Token"`
}

// GetState запрашивает текущее состояние платежа и ссылку на фискальный чек,
// если шлюз уже сформировал его.
func (c *Client) GetState(ctx context.Context, paymentID string) (*State, error) {
	payload := getStatePayload{
		TerminalKey: c.terminalKey,
		PaymentID:   paymentID,
	}
	payload.Token = c.token(map[string]string{
		"TerminalKey": payload.TerminalKey,
		"PaymentId":   payload.PaymentID,
	})

	resp, err := c.post(ctx, "/GetState", payload)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: code %s, %s", ErrGatewayDeclined, resp.ErrorCode, resp.Message)
	}

	return &State{
		Status:     resp.Status,
		ReceiptURL: resp.ReceiptURL,
	}, nil
}

// VerifyNotification пересчитывает подпись уведомления по всем скалярным полям,
// кроме самого токена, и сравнивает с присланной. Любое расхождение означает
// подделку или искажение уведомления.
func (c *Client) VerifyNotification(n Notification) bool {
	expected := c.token(map[string]string{
		"TerminalKey": n.TerminalKey,
		"OrderId":     n.OrderID,
		"Success":     strconv.FormatBool(n.Success),
		"Status":      n.Status,
		"PaymentId":   strconv.FormatInt(n.PaymentID, 10),
		"Amount":      strconv.FormatInt(n.Amount, 10),
		"ErrorCode":   n.ErrorCode,
	})
	return hmac.Equal([]byte(expected), []byte(n.Token))
}

// token вычисляет подпись запроса: значения скалярных параметров и пароль
// конкатенируются в алфавитном порядке ключей и хэшируются SHA-256.
// Пустые параметры не участвуют в подписи.
func (c *Client) token(params map[string]string) string {
	params["Password"] = c.password

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (c *Client) post(ctx context.Context, path string, payload any) (*gatewayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
