package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"licshop/internal/billing"
	"licshop/internal/store"
)

// AdminService serves the back-office reads: pending order review and the
// fiscal invoice ledger, including the spreadsheet export handed to the
// accountant each quarter.
type AdminService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAdminService wires the admin service.
func NewAdminService(st *store.Store, logger *slog.Logger) *AdminService {
	return &AdminService{
		store:  st,
		logger: logger.With(slog.String("service", "admin")),
	}
}

// ListOrders returns orders filtered by status, newest first.
func (s *AdminService) ListOrders(ctx context.Context, status store.OrderStatus, limit int) ([]*store.ManualOrder, error) {
	switch status {
	case store.OrderPending, store.OrderPaidProcessing, store.OrderLicenseSent,
		store.OrderEmailFailed, store.OrderError:
	default:
		return nil, fmt.Errorf("unknown order status %q", status)
	}
	return s.store.ListOrdersByStatus(ctx, status, limit)
}

// InvoiceReport is the ledger slice for a date range plus the aggregate
// totals the accountant reconciles against the bank statement.
type InvoiceReport struct {
	Invoices   []*billing.Invoice `json:"invoices"`
	Count      int                `json:"count"`
	BaseTotal  int64              `json:"baseTotalCents"`
	IVATotal   int64              `json:"ivaTotalCents"`
	RetTotal   int64              `json:"retTotalCents"`
	GrandTotal int64              `json:"grandTotalCents"`
}

// ListInvoices returns the invoices issued in [start, end] with totals.
func (s *AdminService) ListInvoices(ctx context.Context, start, end time.Time) (*InvoiceReport, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	invoices, err := s.store.ListInvoices(ctx, start, end)
	if err != nil {
		return nil, err
	}

	report := &InvoiceReport{Invoices: invoices, Count: len(invoices)}
	for _, inv := range invoices {
		report.BaseTotal += inv.Base
		report.IVATotal += inv.IVA
		report.RetTotal += inv.Ret
		report.GrandTotal += inv.Total
	}
	return report, nil
}

var invoiceExportHeader = []string{
	"Invoice", "Date", "Email", "Method", "Order",
	"Base (EUR)", "VAT (EUR)", "Retention (EUR)", "Total (EUR)",
}

// ExportInvoicesXLSX renders the ledger slice for [start, end] as an xlsx
// workbook with one invoice per row and a totals row at the bottom.
func (s *AdminService) ExportInvoicesXLSX(ctx context.Context, start, end time.Time) ([]byte, error) {
	report, err := s.ListInvoices(ctx, start, end)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Invoices"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for col, title := range invoiceExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, err
		}
	}

	for i, inv := range report.Invoices {
		row := i + 2
		values := []interface{}{
			inv.InvoiceNumber,
			inv.IssuedAt.Format("2006-01-02"),
			inv.Email,
			inv.Method,
			inv.OrderID,
			billing.FormatEuros(inv.Base),
			billing.FormatEuros(inv.IVA),
			billing.FormatEuros(inv.Ret),
			billing.FormatEuros(inv.Total),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	totalsRow := len(report.Invoices) + 2
	totals := []interface{}{
		"TOTAL", "", "", "", "",
		billing.FormatEuros(report.BaseTotal),
		billing.FormatEuros(report.IVATotal),
		billing.FormatEuros(report.RetTotal),
		billing.FormatEuros(report.GrandTotal),
	}
	for col, v := range totals {
		cell, err := excelize.CoordinatesToCellName(col+1, totalsRow)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.InfoContext(ctx, "invoice export generated",
		slog.Int("invoices", report.Count),
		slog.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}
