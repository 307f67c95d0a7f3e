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
)

// WebhookHandler receives trusted payment processor notifications. Transport
// authentication happens in middleware before this handler runs; by the time
// a request gets here the event is believed genuine.
type WebhookHandler struct {
	service *services.OrderService
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(service *services.OrderService, eh *apierrors.ErrorHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		errors:  eh,
		logger:  logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns the router mounted under /api/webhook.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(60 * time.Second))
	r.Post("/payment", h.PaymentEvent)
	return r
}

// PaymentEventRequest is the normalized event envelope the checkout
// provider's bridge posts after verifying the provider signature.
type PaymentEventRequest struct {
	ID      string              `json:"id" validate:"required"`
	Type    string              `json:"type" validate:"required"`
	Payload PaymentEventPayload `json:"payload"`
}

// PaymentEventPayload is the slice of the provider object the backend needs.
type PaymentEventPayload struct {
	PaymentStatus string    `json:"paymentStatus"`
	Email         string    `json:"email"`
	PaymentRef    string    `json:"paymentRef"`
	AmountTotal   int64     `json:"amountTotal"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PaymentEvent handles POST /api/webhook/payment. Settled outcomes,
// including ignored events, answer 200 so the provider stops redelivering.
// Fulfillment failures answer with an error status; the journal keeps them
// in a retryable state so the redelivery makes another attempt.
func (h *WebhookHandler) PaymentEvent(w http.ResponseWriter, r *http.Request) {
	var req PaymentEventRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	outcome, err := h.service.HandlePaymentEvent(r.Context(), services.PaymentEventInput{
		ID:          req.ID,
		Type:        req.Type,
		Paid:        req.Payload.PaymentStatus == "paid",
		Email:       req.Payload.Email,
		PaymentRef:  req.Payload.PaymentRef,
		AmountTotal: req.Payload.AmountTotal,
		Currency:    req.Payload.Currency,
		OccurredAt:  req.Payload.CreatedAt,
	})
	if err != nil {
		// The journal keeps the error status, so the provider's redelivery
		// will reprocess instead of being skipped.
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, outcome)
}
