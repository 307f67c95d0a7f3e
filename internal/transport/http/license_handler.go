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

// LicenseHandler serves the endpoints the installed application calls:
// activation, periodic validation and self-service code recovery.
type LicenseHandler struct {
	service *services.LicenseService
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(service *services.LicenseService, eh *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		errors:  eh,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the router mounted under /api/license.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(15 * time.Second))
	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Post("/recover", h.Recover)
	return r
}

// LicenseCheckRequest is the payload for both activation and validation.
type LicenseCheckRequest struct {
	Code     string `json:"code" validate:"required,min=8"`
	DeviceID string `json:"deviceId" validate:"required,min=4,max=128"`
}

// RecoveryRequest asks for the license code bound to a purchase email.
type RecoveryRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req LicenseCheckRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	result, err := h.service.Activate(r.Context(), req.Code, req.DeviceID)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// Validate handles POST /api/license/validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req LicenseCheckRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	result, err := h.service.Validate(r.Context(), req.Code, req.DeviceID)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// recoveryResponse is identical whether or not the email matched a license.
// The endpoint must not reveal which addresses have purchased.
type recoveryResponse struct {
	Message string `json:"message"`
}

// Recover handles POST /api/license/recover.
func (h *LicenseHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req RecoveryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	if err := h.service.Recover(r.Context(), req.Email); err != nil {
		h.logger.ErrorContext(r.Context(), "recovery failed",
			slog.String("error", err.Error()),
		)
		// Fall through to the generic response: a storage or SMTP failure
		// must not become a signal about whether the email has a license.
	}

	render.JSON(w, r, recoveryResponse{
		Message: "If a license exists for that email, the code has been sent to it.",
	})
}
