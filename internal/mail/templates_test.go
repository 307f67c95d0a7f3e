package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licshop/internal/billing"
)

var testBranding = Branding{
	CompanyName:  "Jane Dev S.L.",
	CompanyID:    "B12345678",
	Address:      "Calle Mayor 1, Madrid",
	Phone:        "+34 600 000 000",
	ProductName:  "LicShop",
	ProductURL:   "https://licshop.example.com",
	SupportEmail: "support@licshop.example.com",
}

func testInvoiceView() InvoiceView {
	return NewInvoiceView(&billing.Invoice{
		InvoiceNumber: "3/2026",
		IssuedAt:      time.Date(2026, 7, 4, 10, 0, 0, 0, time.UTC),
		Base:          10000,
		IVA:           2100,
		Ret:           700,
		Total:         11400,
	}, 21, 7)
}

func TestNewInvoiceViewFormatsFields(t *testing.T) {
	v := testInvoiceView()

	assert.Equal(t, "3/2026", v.Number)
	assert.Equal(t, "04/07/2026", v.Date)
	assert.Equal(t, "100.00", v.Base)
	assert.Equal(t, "21.00", v.IVA)
	assert.Equal(t, "7.00", v.Ret)
	assert.Equal(t, "114.00", v.Total)
}

func TestInvoiceHTMLContainsIssuerAndLines(t *testing.T) {
	html, err := InvoiceHTML(testBranding, testInvoiceView())
	require.NoError(t, err)

	assert.Contains(t, html, "Jane Dev S.L.")
	assert.Contains(t, html, "B12345678")
	assert.Contains(t, html, "INVOICE: 3/2026")
	assert.Contains(t, html, "Taxable base")
	assert.Contains(t, html, "VAT (21%)")
	assert.Contains(t, html, "Retention (-7%)")
	assert.Contains(t, html, "TOTAL PAID")
	assert.Contains(t, html, "114.00")
}

func TestInvoiceDocumentHTMLIsCompletePage(t *testing.T) {
	html, err := InvoiceDocumentHTML(testBranding, testInvoiceView())
	require.NoError(t, err)

	assert.True(t, len(html) > 0)
	assert.Contains(t, html, "<html><body>")
	assert.Contains(t, html, "</body></html>")
}

func TestPurchaseMessage(t *testing.T) {
	expires := time.Date(2027, 7, 4, 0, 0, 0, 0, time.UTC)
	msg, err := PurchaseMessage(testBranding, "buyer@example.com",
		"ABCD-EFGH-JKMN", expires, testInvoiceView())
	require.NoError(t, err)

	assert.Equal(t, "buyer@example.com", msg.To)
	assert.Equal(t, "Your LicShop license and invoice", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "ABCD-EFGH-JKMN")
	assert.Contains(t, msg.HTMLBody, "04/07/2027")
	assert.Contains(t, msg.HTMLBody, "How to activate")
	assert.Contains(t, msg.HTMLBody, "one device change per year")
	// The inline invoice block is embedded, not escaped.
	assert.Contains(t, msg.HTMLBody, "INVOICE: 3/2026")
	assert.NotContains(t, msg.HTMLBody, "&lt;div")
}

func TestRecoveryMessage(t *testing.T) {
	expires := time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)
	msg, err := RecoveryMessage(testBranding, "buyer@example.com",
		"ABCD-EFGH-JKMN", expires)
	require.NoError(t, err)

	assert.Equal(t, "Your LicShop license recovery", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "ABCD-EFGH-JKMN")
	assert.Contains(t, msg.HTMLBody, "15/01/2027")
	assert.Contains(t, msg.HTMLBody, testBranding.SupportEmail)
}
