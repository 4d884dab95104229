package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInit_OK(t *testing.T) {
	var got initPayload

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/Init" {
			t.Fatalf("path = %s, want /Init", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		resp := gatewayResponse{
			Success:    true,
			Status:     "NEW",
			PaymentID:  "700001",
			PaymentURL: "https://pay.example.com/700001",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "terminal", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.Init(ctx, InitRequest{
		Amount:      80000,
		OrderID:     "12-abc",
		Description: "Заказ чая",
		Receipt: &Receipt{
			Taxation: "usn_income",
			Items: []ReceiptItem{
				{Name: "Сенча, 100 г", Price: 48000, Quantity: 1, Amount: 48000, Tax: "none"},
				{Name: "Да Хун Пао, 50 г", Price: 32000, Quantity: 1, Amount: 32000, Tax: "none"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if res.PaymentID != "700001" || res.PaymentURL != "https://pay.example.com/700001" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Токен: значения скалярных параметров и пароль в алфавитном порядке ключей.
	// Amount, Description, OrderId, Password, TerminalKey.
	want := sha256.Sum256([]byte("80000" + "Заказ чая" + "12-abc" + "secret" + "terminal"))
	if got.Token != hex.EncodeToString(want[:]) {
		t.Fatalf("token = %s, want %s", got.Token, hex.EncodeToString(want[:]))
	}
}

func TestInit_ReceiptMismatchFailsBeforeRequest(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "terminal", "secret")

	_, err := client.Init(context.Background(), InitRequest{
		Amount:  80000,
		OrderID: "1-x",
		Receipt: &Receipt{
			Taxation: "usn_income",
			Items: []ReceiptItem{
				{Name: "Сенча", Price: 50000, Quantity: 1, Amount: 50000, Tax: "none"},
			},
		},
	})
	if !errors.Is(err, ErrReceiptMismatch) {
		t.Fatalf("err = %v, want ErrReceiptMismatch", err)
	}
	if called {
		t.Fatalf("gateway must not be called for a mismatched receipt")
	}
}

func TestInit_GatewayDeclined(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := gatewayResponse{Success: false, ErrorCode: "204", Message: "invalid token"}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "terminal", "secret")

	_, err := client.Init(context.Background(), InitRequest{Amount: 100, OrderID: "1-x"})
	if !errors.Is(err, ErrGatewayDeclined) {
		t.Fatalf("err = %v, want ErrGatewayDeclined", err)
	}
}

func TestGetState_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/GetState" {
			t.Fatalf("path = %s, want /GetState", r.URL.Path)
		}
		var got getStatePayload
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got.PaymentID != "700001" {
			t.Fatalf("payment id = %s, want 700001", got.PaymentID)
		}

		resp := gatewayResponse{
			Success:    true,
			Status:     StatusConfirmed,
			PaymentID:  "700001",
			ReceiptURL: "https://receipts.example.com/700001.pdf",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "terminal", "secret")

	st, err := client.GetState(context.Background(), "700001")
	if err != nil {
		t.Fatalf("GetState error: %v", err)
	}
	if st.Status != StatusConfirmed {
		t.Fatalf("status = %s, want %s", st.Status, StatusConfirmed)
	}
	if st.ReceiptURL != "https://receipts.example.com/700001.pdf" {
		t.Fatalf("receipt url = %s", st.ReceiptURL)
	}
}

func validNotification(c *Client) Notification {
	n := Notification{
		TerminalKey: "terminal",
		OrderID:     "12-abc",
		Success:     true,
		Status:      StatusConfirmed,
		PaymentID:   700001,
		Amount:      80000,
	}
	n.Token = c.token(map[string]string{
		"TerminalKey": n.TerminalKey,
		"OrderId":     n.OrderID,
		"Success":     "true",
		"Status":      n.Status,
		"PaymentId":   "700001",
		"Amount":      "80000",
	})
	return n
}

func TestVerifyNotification(t *testing.T) {
	client := NewClient("http://gw", "terminal", "secret")

	n := validNotification(client)
	if !client.VerifyNotification(n) {
		t.Fatalf("valid notification rejected")
	}

	forged := n
	forged.Amount = 1
	if client.VerifyNotification(forged) {
		t.Fatalf("notification with tampered amount accepted")
	}

	wrongSecret := NewClient("http://gw", "terminal", "other-secret")
	if wrongSecret.VerifyNotification(n) {
		t.Fatalf("notification accepted with wrong shared secret")
	}

	noToken := n
	noToken.Token = ""
	if client.VerifyNotification(noToken) {
		t.Fatalf("notification without token accepted")
	}
}
