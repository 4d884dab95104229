// Package handler содержит HTTP-обработчики API магазина чая.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/akulagin/teashop-system/internal/middleware"
	"github.com/akulagin/teashop-system/internal/model"
	"github.com/akulagin/teashop-system/internal/payment"
	"github.com/akulagin/teashop-system/internal/pricing"
	"github.com/akulagin/teashop-system/internal/repository"
	"github.com/akulagin/teashop-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, phone string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetProducts(ctx context.Context) ([]model.Product, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	Checkout(ctx context.Context, userID *int64, req service.CheckoutRequest) (int64, error)
	InitPayment(ctx context.Context, actor service.Actor, orderID int64) (*payment.InitResult, error)
	ApplyNotification(ctx context.Context, n payment.Notification) error
	SyncPayment(ctx context.Context, actor service.Actor, orderID int64) (*model.Order, error)
	SetOrderStatus(ctx context.Context, orderID int64, to model.OrderStatus) error
	GrantDiscount(ctx context.Context, userID int64, percent int) error
}

// Handler реализует HTTP-обработчики API магазина.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminMiddleware *middleware.AdminMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, admin *middleware.AdminMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		adminMiddleware: admin,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func actorFromRequest(r *http.Request) service.Actor {
	if id, ok := middleware.GetUserIDFromContext(r.Context()); ok {
		return service.Actor{UserID: &id}
	}
	return service.Actor{}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

// Register обрабатывает регистрацию нового покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password are required")
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.Phone)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			writeError(w, http.StatusConflict, "login is already taken")
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Login выполняет аутентификацию покупателя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password are required")
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid login or password")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type productResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	PricePerGram float64 `json:"pricePerGram"`
}

// GetProducts возвращает каталог доступных товаров.
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.GetProducts(r.Context())
	if err != nil {
		h.logger.Error("get products error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			PricePerGram: float64(p.PricePerGram) / 100,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type checkoutItemRequest struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

type checkoutRequest struct {
	Name    string                `json:"name"`
	Email   string                `json:"email"`
	Phone   string                `json:"phone"`
	Address string                `json:"address"`
	Comment string                `json:"comment"`
	Items   []checkoutItemRequest `json:"items"`
	// Клиентская сумма носит справочный характер и не влияет на итог.
	Total float64 `json:"total"`
}

// CreateOrder оформляет заказ. Доступен и гостям, и авторизованным покупателям.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	items := make([]pricing.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, pricing.CartItem{ProductID: it.ID, Quantity: it.Quantity})
	}

	var userID *int64
	if id, ok := middleware.GetUserIDFromContext(r.Context()); ok {
		userID = &id
	}

	orderID, err := h.service.Checkout(r.Context(), userID, service.CheckoutRequest{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Address:     req.Address,
		Comment:     req.Comment,
		Items:       items,
		ClientTotal: req.Total,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidContact):
			writeError(w, http.StatusBadRequest, "проверьте имя, телефон и адрес доставки")
		case errors.Is(err, pricing.ErrEmptyCart):
			writeError(w, http.StatusBadRequest, "корзина пуста или товары недоступны")
		case errors.Is(err, pricing.ErrBelowMinimum):
			writeError(w, http.StatusBadRequest, "сумма заказа меньше минимальной")
		default:
			h.logger.Error("checkout error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orderId": orderID})
}

type orderResponse struct {
	ID            int64             `json:"id"`
	Status        string            `json:"status"`
	Total         float64           `json:"total"`
	Items         []model.OrderItem `json:"items"`
	PaymentStatus string            `json:"paymentStatus,omitempty"`
	ReceiptURL    *string           `json:"receiptUrl,omitempty"`
	CreatedAt     string            `json:"createdAt"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Status:        string(o.Status),
		Total:         float64(o.TotalKopecks) / 100,
		Items:         o.Items,
		PaymentStatus: o.PaymentStatus,
		ReceiptURL:    o.ReceiptURL,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
}

// GetOrders возвращает заказы текущего покупателя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type initPaymentRequest struct {
	OrderID int64 `json:"orderId"`
}

// InitPayment создаёт платёжную сессию для заказа.
func (h *Handler) InitPayment(w http.ResponseWriter, r *http.Request) {
	var req initPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == 0 {
		writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	res, err := h.service.InitPayment(r.Context(), actorFromRequest(r), req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrForbidden):
			writeError(w, http.StatusForbidden, "order belongs to another customer")
		case errors.Is(err, service.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "order is not awaiting payment")
		default:
			h.logger.Error("init payment error", zap.Error(err), zap.Int64("orderID", req.OrderID))
			writeError(w, http.StatusInternalServerError, "payment gateway error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"paymentUrl": res.PaymentURL,
		"paymentId":  res.PaymentID,
	})
}

// PaymentNotification обрабатывает вебхук платёжного шлюза. Шлюз ожидает в
// ответе литеральный токен OK.
func (h *Handler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	var n payment.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "malformed notification")
		return
	}

	if err := h.service.ApplyNotification(r.Context(), n); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			h.logger.Warn("payment notification rejected", zap.String("orderId", n.OrderID))
			writeError(w, http.StatusForbidden, "invalid signature")
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		default:
			h.logger.Error("payment notification error", zap.Error(err), zap.String("orderId", n.OrderID))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// CheckPayment сверяет статус платежа со шлюзом и возвращает текущее состояние заказа.
func (h *Handler) CheckPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad order id")
		return
	}

	order, err := h.service.SyncPayment(r.Context(), actorFromRequest(r), orderID)
	if err != nil {
		h.writeSyncError(w, err, orderID)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) writeSyncError(w http.ResponseWriter, err error, orderID int64) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "order belongs to another customer")
	case errors.Is(err, service.ErrPaymentNotInitialized):
		writeError(w, http.StatusConflict, "payment is not initialized")
	default:
		h.logger.Error("sync payment error", zap.Error(err), zap.Int64("orderID", orderID))
		writeError(w, http.StatusInternalServerError, "payment gateway error")
	}
}
