// Package services contains the application services that orchestrate the
// domain packages: order intake, payment reconciliation, license recovery
// and the admin surface.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"licshop/internal/billing"
	"licshop/internal/infrastructure"
	"licshop/internal/license"
	"licshop/internal/mail"
	"licshop/internal/pdf"
	"licshop/internal/store"
)

// fulfillmentInput describes a confirmed payment ready to be turned into a
// license, an invoice and a customer email.
type fulfillmentInput struct {
	Email      string
	Source     license.Source
	PaymentRef string
	Method     string
	OrderID    string
	PaidAt     time.Time
}

// fulfillmentResult is non-nil as soon as a license exists, even when a later
// step failed. EmailErr is set when license and invoice stand but the
// notification could not be delivered.
type fulfillmentResult struct {
	License       *license.License
	InvoiceNumber string
	EmailErr      error
}

// fulfiller runs the shared post-payment pipeline. Both the webhook path and
// the manual completion path end up here, so a payment always produces the
// same artifacts regardless of how it arrived.
type fulfiller struct {
	store    *store.Store
	issuer   *license.Issuer
	sender   mail.Sender
	renderer pdf.Renderer
	pricing  billing.Pricing
	currency string
	branding mail.Branding
	logger   *slog.Logger
	metrics  *infrastructure.BusinessMetrics
	now      func() time.Time
}

// fulfill issues the license, allocates the invoice inside one transaction
// with the counter advance, renders the PDF and sends the purchase email.
// A delivery failure is reported through EmailErr rather than an error so
// callers can keep the license and invoice and flag the order for a manual
// resend.
func (f *fulfiller) fulfill(ctx context.Context, in fulfillmentInput) (*fulfillmentResult, error) {
	lic, err := f.issuer.CreateLicense(ctx, license.IssueInput{
		Email:       in.Email,
		Source:      in.Source,
		PaymentRef:  in.PaymentRef,
		AmountTotal: f.pricing.TotalCents,
		Currency:    f.currency,
		PaidAt:      in.PaidAt,
	})
	if err != nil {
		return nil, fmt.Errorf("issue license: %w", err)
	}
	if f.metrics != nil {
		f.metrics.LicensesIssued.Add(ctx, 1)
	}
	result := &fulfillmentResult{License: lic}

	amounts := f.pricing.Compute()
	issuedAt := f.now()

	// Counter advance and ledger insert share one immediate transaction so
	// the yearly sequence can never skip a number.
	var invoice billing.Invoice
	err = f.store.WithTx(ctx, func(tx *store.Tx) error {
		number, err := billing.NextInvoiceNumber(tx, issuedAt)
		if err != nil {
			return err
		}
		invoice = billing.Invoice{
			Slug:          billing.Slug(number),
			InvoiceNumber: number,
			IssuedAt:      issuedAt,
			Email:         lic.Email,
			Base:          amounts.Base,
			IVA:           amounts.IVA,
			Ret:           amounts.Ret,
			Total:         amounts.Total,
			Method:        in.Method,
			OrderID:       in.OrderID,
		}
		return tx.InsertInvoice(&invoice)
	})
	if err != nil {
		return result, fmt.Errorf("record invoice: %w", err)
	}
	result.InvoiceNumber = invoice.InvoiceNumber
	if f.metrics != nil {
		f.metrics.InvoicesIssued.Add(ctx, 1)
	}

	f.logger.InfoContext(ctx, "license fulfilled",
		slog.String("email", lic.Email),
		slog.String("invoice", invoice.InvoiceNumber),
		slog.String("source", string(in.Source)),
	)

	view := mail.NewInvoiceView(&invoice, f.pricing.IVAPercent, f.pricing.RetentionPercent)

	msg, err := mail.PurchaseMessage(f.branding, lic.Email, lic.Code, lic.ExpiresAt, view)
	if err != nil {
		result.EmailErr = err
		return result, nil
	}

	doc, err := mail.InvoiceDocumentHTML(f.branding, view)
	if err != nil {
		result.EmailErr = err
		return result, nil
	}
	pdfBytes, err := f.renderer.Render(ctx, doc)
	if err != nil {
		result.EmailErr = fmt.Errorf("render invoice pdf: %w", err)
		return result, nil
	}
	msg.Attachments = []mail.Attachment{{
		Filename:    fmt.Sprintf("Invoice_%s.pdf", invoice.Slug),
		ContentType: "application/pdf",
		Content:     pdfBytes,
	}}

	if err := f.sender.Send(ctx, msg); err != nil {
		result.EmailErr = fmt.Errorf("send purchase email: %w", err)
		if f.metrics != nil {
			f.metrics.EmailFailures.Add(ctx, 1)
		}
		return result, nil
	}
	if f.metrics != nil {
		f.metrics.EmailsSent.Add(ctx, 1)
	}

	return result, nil
}
