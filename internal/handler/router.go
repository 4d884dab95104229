package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/akulagin/teashop-system/internal/middleware"
)

// SetupRouter настраивает маршруты HTTP API магазина.
func SetupRouter(h *Handler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger(logger))
	r.Use(middleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)
				r.Get("/orders", h.GetOrders)
			})
		})

		r.Get("/products", h.GetProducts)

		// Оформление и оплата доступны гостям; cookie используется, если есть.
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.OptionalMiddleware)
			r.Post("/orders", h.CreateOrder)
			r.Post("/payments/init", h.InitPayment)
			r.Get("/payments/check/{orderID}", h.CheckPayment)
		})

		r.Post("/payments/notification", h.PaymentNotification)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.adminMiddleware.Middleware)
			r.Post("/orders/{orderID}/sync", h.SyncOrder)
			r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)
			r.Post("/users/{userID}/discount", h.GrantDiscount)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
