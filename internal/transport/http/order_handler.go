package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "licshop/internal/errors"
	"licshop/internal/services"
	"licshop/internal/store"
)

// OrderHandler serves the public manual-order intake.
type OrderHandler struct {
	service *services.OrderService
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewOrderHandler creates an order handler.
func NewOrderHandler(service *services.OrderService, eh *apierrors.ErrorHandler, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		errors:  eh,
		logger:  logger.With(slog.String("handler", "orders")),
	}
}

// Routes returns the router mounted under /api/orders.
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(15 * time.Second))
	r.Post("/manual", h.CreateManual)
	return r
}

// ManualOrderRequest starts an out-of-band payment flow.
type ManualOrderRequest struct {
	Method string `json:"method" validate:"required,oneof=bizum transfer"`
	Email  string `json:"email" validate:"required,email"`
}

// ManualOrderResponse carries the order id and payment instructions.
type ManualOrderResponse struct {
	OrderID      string                        `json:"orderId"`
	Instructions *services.PaymentInstructions `json:"instructions"`
}

// CreateManual handles POST /api/orders/manual.
func (h *OrderHandler) CreateManual(w http.ResponseWriter, r *http.Request) {
	var req ManualOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	orderID, instructions, err := h.service.CreateManualOrder(r.Context(),
		store.PaymentMethod(req.Method), req.Email)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ManualOrderResponse{
		OrderID:      orderID,
		Instructions: instructions,
	})
}
