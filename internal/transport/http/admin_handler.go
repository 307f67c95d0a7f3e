package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "licshop/internal/errors"
	"licshop/internal/services"
	"licshop/internal/store"
)

const (
	defaultOrderListLimit = 50
	maxOrderListLimit     = 500
)

// AdminHandler serves the back office: order review and confirmation, the
// invoice ledger and support-gated device changes. Admin authentication is
// applied by middleware on the mount point.
type AdminHandler struct {
	orders   *services.OrderService
	licenses *services.LicenseService
	admin    *services.AdminService
	errors   *apierrors.ErrorHandler
	logger   *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(
	orders *services.OrderService,
	licenses *services.LicenseService,
	admin *services.AdminService,
	eh *apierrors.ErrorHandler,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		orders:   orders,
		licenses: licenses,
		admin:    admin,
		errors:   eh,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the router mounted under /api/admin.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(60 * time.Second))
	r.Get("/orders", h.ListOrders)
	r.Post("/orders/{id}/complete", h.CompleteOrder)
	r.Get("/invoices", h.ListInvoices)
	r.Get("/invoices/export", h.ExportInvoices)
	r.Post("/license/change-device", h.ChangeDevice)
	return r
}

// ListOrders handles GET /api/admin/orders?status=&limit=.
func (h *AdminHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := store.OrderStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = store.OrderPending
	}

	limit := defaultOrderListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxOrderListLimit {
			h.errors.HandleError(w, r, apierrors.ErrValidation("limit",
				fmt.Sprintf("must be an integer between 1 and %d", maxOrderListLimit)))
			return
		}
		limit = n
	}

	orders, err := h.admin.ListOrders(r.Context(), status, limit)
	if err != nil {
		h.errors.HandleError(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
			"INVALID_REQUEST", "Invalid order filter", err.Error()))
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// CompleteOrder handles POST /api/admin/orders/{id}/complete.
func (h *AdminHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		h.errors.HandleError(w, r, apierrors.ErrValidation("id", "order id is required"))
		return
	}

	result, err := h.orders.CompleteManualOrder(r.Context(), orderID)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// DeviceChangeRequest rebinds a license to a new device on a support ticket.
type DeviceChangeRequest struct {
	Code        string `json:"code" validate:"required,min=8"`
	NewDeviceID string `json:"newDeviceId" validate:"required,min=4,max=128"`
	Reason      string `json:"reason" validate:"max=500"`
}

// ChangeDevice handles POST /api/admin/license/change-device.
func (h *AdminHandler) ChangeDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceChangeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	result, err := h.licenses.ChangeDevice(r.Context(), req.Code, req.NewDeviceID, req.Reason)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// invoiceRange parses startDate/endDate query params (2006-01-02). The end
// date is inclusive, so it extends to the last instant of that day.
func invoiceRange(r *http.Request) (time.Time, time.Time, error) {
	const layout = "2006-01-02"

	rawStart := r.URL.Query().Get("startDate")
	rawEnd := r.URL.Query().Get("endDate")
	if rawStart == "" || rawEnd == "" {
		return time.Time{}, time.Time{}, apierrors.ErrValidation("startDate",
			"startDate and endDate are required (YYYY-MM-DD)")
	}

	start, err := time.Parse(layout, rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, apierrors.ErrValidation("startDate", "must be YYYY-MM-DD")
	}
	end, err := time.Parse(layout, rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, apierrors.ErrValidation("endDate", "must be YYYY-MM-DD")
	}

	end = end.Add(24*time.Hour - time.Nanosecond)
	return start, end, nil
}

// ListInvoices handles GET /api/admin/invoices?startDate=&endDate=.
func (h *AdminHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	start, end, err := invoiceRange(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	report, err := h.admin.ListInvoices(r.Context(), start, end)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}

// ExportInvoices handles GET /api/admin/invoices/export?startDate=&endDate=
// and streams an xlsx workbook.
func (h *AdminHandler) ExportInvoices(w http.ResponseWriter, r *http.Request) {
	start, end, err := invoiceRange(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	data, err := h.admin.ExportInvoicesXLSX(r.Context(), start, end)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	filename := fmt.Sprintf("invoices_%s_%s.xlsx",
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to stream export",
			slog.String("error", err.Error()),
		)
	}
}
