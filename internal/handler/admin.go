package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/akulagin/teashop-system/internal/model"
	"github.com/akulagin/teashop-system/internal/repository"
	"github.com/akulagin/teashop-system/internal/service"
)

func orderIDFromURL(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// SyncOrder принудительно сверяет платёж заказа со шлюзом от имени оператора.
func (h *Handler) SyncOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad order id")
		return
	}

	order, err := h.service.SyncPayment(r.Context(), service.Actor{Admin: true}, orderID)
	if err != nil {
		h.writeSyncError(w, err, orderID)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

var adminStatuses = map[model.OrderStatus]bool{
	model.OrderStatusPaid:      true,
	model.OrderStatusCompleted: true,
	model.OrderStatusCancelled: true,
}

// UpdateOrderStatus переводит заказ в новый статус. Переход выполняется
// атомарно: из двух операторов, меняющих статус одновременно, успеет один.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	status := model.OrderStatus(req.Status)
	if !adminStatuses[status] {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	err := h.service.SetOrderStatus(r.Context(), orderID, status)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "transition is not allowed")
		case errors.Is(err, service.ErrStatusConflict):
			writeError(w, http.StatusConflict, "order was changed by someone else")
		default:
			h.logger.Error("update order status error", zap.Error(err), zap.Int64("orderID", orderID))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type grantDiscountRequest struct {
	Percent int `json:"percent"`
}

// GrantDiscount назначает покупателю разовую скидку на следующий заказ.
func (h *Handler) GrantDiscount(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "bad user id")
		return
	}

	var req grantDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.service.GrantDiscount(r.Context(), userID, req.Percent); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDiscount):
			writeError(w, http.StatusBadRequest, "percent must be between 1 and 100")
		case errors.Is(err, repository.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			h.logger.Error("grant discount error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
