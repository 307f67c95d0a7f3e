package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"licshop/internal/billing"
)

// Branding carries the issuer identity printed on invoices and email
// footers. All values come from configuration.
type Branding struct {
	CompanyName  string
	CompanyID    string // fiscal id
	Address      string
	Phone        string
	ProductName  string
	ProductURL   string
	SupportEmail string
}

// InvoiceView is the rendered-facing invoice model shared by the email body
// and the PDF attachment.
type InvoiceView struct {
	Number     string
	Date       string
	Base       string
	IVA        string
	Ret        string
	Total      string
	IVAPercent float64
	RetPercent float64
}

// NewInvoiceView formats a ledger entry for rendering.
func NewInvoiceView(inv *billing.Invoice, ivaPercent, retPercent float64) InvoiceView {
	return InvoiceView{
		Number:     inv.InvoiceNumber,
		Date:       inv.IssuedAt.Format("02/01/2006"),
		Base:       billing.FormatEuros(inv.Base),
		IVA:        billing.FormatEuros(inv.IVA),
		Ret:        billing.FormatEuros(inv.Ret),
		Total:      billing.FormatEuros(inv.Total),
		IVAPercent: ivaPercent,
		RetPercent: retPercent,
	}
}

var invoiceBlockTmpl = template.Must(template.New("invoice").Parse(`
<div style="margin-top:30px;border:1px solid #ddd;padding:20px;font-family:Arial,sans-serif;border-radius:8px;color:#333;max-width:550px;">
  <table style="width:100%;">
    <tr>
      <td style="vertical-align:top;font-weight:bold;font-size:16px;">{{.Branding.ProductName}}</td>
      <td style="text-align:right;font-size:12px;color:#555;">
        <strong>ISSUER:</strong><br>{{.Branding.CompanyName}}<br>{{.Branding.CompanyID}}<br>{{.Branding.Address}}<br>{{.Branding.Phone}}
      </td>
    </tr>
  </table>
  <div style="margin-top:20px;">
    <h3 style="margin-bottom:5px;color:#1a1a1a;">INVOICE: {{.Invoice.Number}}</h3>
    <p style="font-size:13px;margin-top:0;">Date: {{.Invoice.Date}}</p>
  </div>
  <table style="width:100%;border-collapse:collapse;margin-top:15px;font-size:15px;">
    <tr>
      <td style="padding:10px 0;border-bottom:1px solid #eee;">Taxable base</td>
      <td style="padding:10px 0;border-bottom:1px solid #eee;text-align:right;">{{.Invoice.Base}}&euro;</td>
    </tr>
    <tr>
      <td style="padding:10px 0;border-bottom:1px solid #eee;">VAT ({{.Invoice.IVAPercent}}%)</td>
      <td style="padding:10px 0;border-bottom:1px solid #eee;text-align:right;">{{.Invoice.IVA}}&euro;</td>
    </tr>
    <tr>
      <td style="padding:10px 0;border-bottom:1px solid #eee;">Retention (-{{.Invoice.RetPercent}}%)</td>
      <td style="padding:10px 0;border-bottom:1px solid #eee;text-align:right;color:#d9534f;">-{{.Invoice.Ret}}&euro;</td>
    </tr>
    <tr style="font-weight:bold;">
      <td style="padding:15px 0;font-size:1.1em;">TOTAL PAID</td>
      <td style="padding:15px 0;text-align:right;font-size:1.1em;color:#28a745;">{{.Invoice.Total}}&euro;</td>
    </tr>
  </table>
</div>`))

var purchaseTmpl = template.Must(template.New("purchase").Parse(`
<div style="font-family:Arial,sans-serif;color:#333;">
  <p>Thank you for your purchase of {{.Branding.ProductName}}.</p>
  <p><strong>Your license code:</strong><br>
  <span style="font-size:18px;letter-spacing:1px;color:#2a6edb;">{{.Code}}</span></p>
  <p><strong>Valid until:</strong> {{.ExpiresAt}}</p>
  <p><strong>How to activate:</strong><br>
  1) Open the app<br>
  2) Settings &rarr; License<br>
  3) Paste the code and activate</p>
  <p>Your detailed invoice is attached to this email as a PDF.</p>
  {{.InvoiceHTML}}
  <p style="margin-top:20px;"><strong>Please note:</strong><br>
  - The license covers one device.<br>
  - It includes one device change per year.</p>
  <p style="margin-top:20px;font-size:12px;color:#777;">Support: {{.Branding.SupportEmail}}</p>
  {{.FooterHTML}}
</div>`))

var recoveryTmpl = template.Must(template.New("recovery").Parse(`
<div style="font-family:Arial,sans-serif;color:#333;">
  <p>Here is your license code:</p>
  <p><strong style="font-size:18px;letter-spacing:1px;">{{.Code}}</strong></p>
  <p><strong>Valid until:</strong> {{.ExpiresAt}}</p>
  <p>If you need another resend, contact support: {{.Branding.SupportEmail}}</p>
  {{.FooterHTML}}
</div>`))

var footerTmpl = template.Must(template.New("footer").Parse(`
<div style="margin-top:20px;font-family:Arial,sans-serif;font-size:13px;color:#555;">
  <hr style="border:none;border-top:1px solid #eee;margin-bottom:15px;" />
  <strong>{{.ProductName}}</strong><br />
  <a href="{{.ProductURL}}" style="color:#2a6edb;text-decoration:none;">{{.ProductURL}}</a><br />
  <span style="color:#777;">{{.SupportEmail}}</span>
</div>`))

// InvoiceHTML renders the standalone invoice block, used both inline in the
// purchase email and as the document handed to the PDF renderer.
func InvoiceHTML(b Branding, inv InvoiceView) (string, error) {
	var buf bytes.Buffer
	err := invoiceBlockTmpl.Execute(&buf, struct {
		Branding Branding
		Invoice  InvoiceView
	}{b, inv})
	if err != nil {
		return "", fmt.Errorf("render invoice block: %w", err)
	}
	return buf.String(), nil
}

// InvoiceDocumentHTML wraps the invoice block in a minimal page for PDF
// rendering.
func InvoiceDocumentHTML(b Branding, inv InvoiceView) (string, error) {
	block, err := InvoiceHTML(b, inv)
	if err != nil {
		return "", err
	}
	return "<html><body>" + block + "</body></html>", nil
}

// PurchaseMessage builds the purchase-confirmation email for a freshly
// issued license. The invoice PDF is attached separately by the caller.
func PurchaseMessage(b Branding, to, code string, expiresAt time.Time, inv InvoiceView) (Message, error) {
	invoiceHTML, err := InvoiceHTML(b, inv)
	if err != nil {
		return Message{}, err
	}
	footer, err := renderFooter(b)
	if err != nil {
		return Message{}, err
	}

	var buf bytes.Buffer
	err = purchaseTmpl.Execute(&buf, struct {
		Branding    Branding
		Code        string
		ExpiresAt   string
		InvoiceHTML template.HTML
		FooterHTML  template.HTML
	}{b, code, expiresAt.Format("02/01/2006"), template.HTML(invoiceHTML), template.HTML(footer)})
	if err != nil {
		return Message{}, fmt.Errorf("render purchase email: %w", err)
	}

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("Your %s license and invoice", b.ProductName),
		HTMLBody: buf.String(),
	}, nil
}

// RecoveryMessage builds the license-recovery email.
func RecoveryMessage(b Branding, to, code string, expiresAt time.Time) (Message, error) {
	footer, err := renderFooter(b)
	if err != nil {
		return Message{}, err
	}

	var buf bytes.Buffer
	err = recoveryTmpl.Execute(&buf, struct {
		Branding   Branding
		Code       string
		ExpiresAt  string
		FooterHTML template.HTML
	}{b, code, expiresAt.Format("02/01/2006"), template.HTML(footer)})
	if err != nil {
		return Message{}, fmt.Errorf("render recovery email: %w", err)
	}

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("Your %s license recovery", b.ProductName),
		HTMLBody: buf.String(),
	}, nil
}

func renderFooter(b Branding) (string, error) {
	var buf bytes.Buffer
	if err := footerTmpl.Execute(&buf, b); err != nil {
		return "", fmt.Errorf("render footer: %w", err)
	}
	return buf.String(), nil
}
