package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licshop/internal/billing"
	"licshop/internal/config"
	"licshop/internal/license"
	"licshop/internal/mail"
	"licshop/internal/store"
)

// fakeSender records sent mail and can be told to fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// fakeRenderer returns canned bytes instead of driving a browser.
type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-fake"), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testPricing = billing.Pricing{
	BaseCents:        10000,
	IVAPercent:       21,
	RetentionPercent: 7,
	TotalCents:       11400,
}

var testPayment = config.PaymentConfig{
	BizumPhone:    "+34600000000",
	BankIBAN:      "ES9121000418450200051332",
	BankHolder:    "Jane Dev",
	ReferenceHint: "Include the order reference",
}

var testBranding = mail.Branding{
	CompanyName: "Jane Dev S.L.",
	ProductName: "LicShop",
}

type orderServiceFixture struct {
	service  *OrderService
	store    *store.Store
	sender   *fakeSender
	renderer *fakeRenderer
}

func newOrderServiceFixture(t *testing.T) *orderServiceFixture {
	t.Helper()
	logger := testLogger()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sender := &fakeSender{}
	renderer := &fakeRenderer{}
	issuer := license.NewIssuer(st, logger)

	svc := NewOrderService(st, issuer, sender, renderer,
		testPricing, "EUR", testPayment, testBranding, logger, nil)

	return &orderServiceFixture{service: svc, store: st, sender: sender, renderer: renderer}
}

func TestCreateManualOrderBizum(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	orderID, ins, err := f.service.CreateManualOrder(ctx, store.MethodBizum, "Buyer@Example.com")
	require.NoError(t, err)
	require.NotEmpty(t, orderID)

	assert.Equal(t, store.MethodBizum, ins.Method)
	assert.Equal(t, "114.00", ins.Amount)
	assert.Equal(t, int64(11400), ins.AmountCents)
	assert.Equal(t, testPayment.BizumPhone, ins.BizumPhone)
	assert.Empty(t, ins.BankIBAN)
	assert.Regexp(t, `^LIC-BIZ-[A-Z2-9]{6}$`, ins.Reference)

	got, err := f.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderPending, got.Status)
	assert.Equal(t, "buyer@example.com", got.Email)
}

func TestCreateManualOrderTransfer(t *testing.T) {
	f := newOrderServiceFixture(t)

	_, ins, err := f.service.CreateManualOrder(context.Background(), store.MethodTransfer, "a@b.com")
	require.NoError(t, err)

	assert.Equal(t, testPayment.BankIBAN, ins.BankIBAN)
	assert.Equal(t, testPayment.BankHolder, ins.BankHolder)
	assert.Equal(t, testPayment.ReferenceHint, ins.ConceptHint)
	assert.Empty(t, ins.BizumPhone)
	assert.Regexp(t, `^LIC-TRF-`, ins.Reference)
}

func TestCreateManualOrderUnconfiguredChannel(t *testing.T) {
	logger := testLogger()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := NewOrderService(st, license.NewIssuer(st, logger), &fakeSender{}, &fakeRenderer{},
		testPricing, "EUR", config.PaymentConfig{}, testBranding, logger, nil)

	_, _, err = svc.CreateManualOrder(context.Background(), store.MethodBizum, "a@b.com")
	assert.ErrorContains(t, err, "not configured")

	_, _, err = svc.CreateManualOrder(context.Background(), store.MethodTransfer, "a@b.com")
	assert.ErrorContains(t, err, "not configured")
}

func TestCompleteManualOrderHappyPath(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	orderID, _, err := f.service.CreateManualOrder(ctx, store.MethodBizum, "buyer@example.com")
	require.NoError(t, err)

	result, err := f.service.CompleteManualOrder(ctx, orderID)
	require.NoError(t, err)

	assert.NotEmpty(t, result.LicenseCode)
	assert.True(t, license.IsValidCodeFormat(result.LicenseCode))
	assert.NotEmpty(t, result.InvoiceNumber)
	assert.False(t, result.EmailFailed)

	order, err := f.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderLicenseSent, order.Status)
	assert.Equal(t, result.LicenseCode, order.LicenseCode)
	assert.Equal(t, result.InvoiceNumber, order.InvoiceNumber)

	lic, err := f.store.GetLicense(ctx, result.LicenseCode)
	require.NoError(t, err)
	assert.Equal(t, license.SourceManual, lic.Source)
	assert.Equal(t, orderID, lic.PaymentRef)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, "buyer@example.com", msg.To)
	assert.Contains(t, msg.HTMLBody, result.LicenseCode)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
}

func TestCompleteManualOrderTwiceConflicts(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	orderID, _, err := f.service.CreateManualOrder(ctx, store.MethodBizum, "buyer@example.com")
	require.NoError(t, err)

	_, err = f.service.CompleteManualOrder(ctx, orderID)
	require.NoError(t, err)

	// The double-click (or concurrent admin) gets a conflict, and exactly
	// one license and invoice exist.
	_, err = f.service.CompleteManualOrder(ctx, orderID)
	assert.ErrorIs(t, err, store.ErrOrderNotPending)

	n, err := f.store.InvoiceCounter(ctx, time.Now().UTC().Year())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.sender.sent, 1)
}

func TestCompleteManualOrderUnknown(t *testing.T) {
	f := newOrderServiceFixture(t)
	_, err := f.service.CompleteManualOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompleteManualOrderEmailFailureKeepsLicense(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	orderID, _, err := f.service.CreateManualOrder(ctx, store.MethodBizum, "buyer@example.com")
	require.NoError(t, err)

	f.sender.err = errors.New("smtp unreachable")

	result, err := f.service.CompleteManualOrder(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, result.EmailFailed)
	assert.NotEmpty(t, result.LicenseCode)
	assert.NotEmpty(t, result.InvoiceNumber)

	// License and invoice stand, the order is flagged for a manual resend.
	order, err := f.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderEmailFailed, order.Status)

	_, err = f.store.GetLicense(ctx, result.LicenseCode)
	assert.NoError(t, err)
}

func TestCompleteManualOrderPDFFailureKeepsLicense(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	orderID, _, err := f.service.CreateManualOrder(ctx, store.MethodBizum, "buyer@example.com")
	require.NoError(t, err)

	f.renderer.err = errors.New("chrome crashed")

	result, err := f.service.CompleteManualOrder(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, result.EmailFailed)

	order, _ := f.store.GetOrder(ctx, orderID)
	assert.Equal(t, store.OrderEmailFailed, order.Status)
	// No mail goes out without its invoice attachment.
	assert.Empty(t, f.sender.sent)
}

func paidEvent(id string) PaymentEventInput {
	return PaymentEventInput{
		ID:          id,
		Type:        EventTypeCheckoutCompleted,
		Paid:        true,
		Email:       "buyer@example.com",
		PaymentRef:  "cs_" + id,
		AmountTotal: 11400,
		Currency:    "EUR",
		OccurredAt:  time.Now().UTC(),
	}
}

func TestHandlePaymentEventIssuesLicense(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	outcome, err := f.service.HandlePaymentEvent(ctx, paidEvent("evt_1"))
	require.NoError(t, err)

	assert.Equal(t, store.EventProcessed, outcome.Status)
	assert.NotEmpty(t, outcome.LicenseCode)
	assert.NotEmpty(t, outcome.InvoiceNumber)

	lic, err := f.store.LicenseByPaymentRef(ctx, license.SourceCheckout, "cs_evt_1")
	require.NoError(t, err)
	assert.Equal(t, outcome.LicenseCode, lic.Code)
	assert.Len(t, f.sender.sent, 1)
}

func TestHandlePaymentEventRedeliveryIsIdempotent(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.HandlePaymentEvent(ctx, paidEvent("evt_1"))
	require.NoError(t, err)

	second, err := f.service.HandlePaymentEvent(ctx, paidEvent("evt_1"))
	require.NoError(t, err)

	assert.Equal(t, first.LicenseCode, second.LicenseCode)
	assert.Len(t, f.sender.sent, 1)

	n, err := f.store.InvoiceCounter(ctx, time.Now().UTC().Year())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandlePaymentEventSameRefDifferentID(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.HandlePaymentEvent(ctx, paidEvent("evt_1"))
	require.NoError(t, err)

	// A distinct event id for the same checkout session must not mint a
	// second license.
	dup := paidEvent("evt_2")
	dup.PaymentRef = "cs_evt_1"
	second, err := f.service.HandlePaymentEvent(ctx, dup)
	require.NoError(t, err)

	assert.Equal(t, store.EventProcessed, second.Status)
	assert.Equal(t, first.LicenseCode, second.LicenseCode)
	assert.Len(t, f.sender.sent, 1)
}

func TestFulfillRejectsDuplicatePaymentRef(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	in := fulfillmentInput{
		Email:      "buyer@example.com",
		Source:     license.SourceCheckout,
		PaymentRef: "cs_evt_1",
		Method:     "checkout",
		PaidAt:     time.Now().UTC(),
	}
	first, err := f.service.fulfiller.fulfill(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, first.License)

	// The second pipeline run for the same payment fails on the license
	// insert. Nothing durable is produced and the error identifies the
	// duplicate so the caller can treat it as a redelivery.
	second, err := f.service.fulfiller.fulfill(ctx, in)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, license.ErrDuplicatePaymentRef)
	assert.NotErrorIs(t, err, license.ErrCodeSpaceExhausted)

	n, err := f.store.InvoiceCounter(ctx, time.Now().UTC().Year())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandlePaymentEventConcurrentSameRef(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	// Several deliveries of the same checkout session land at once, each
	// under its own event id. Whichever passes the existing-license check
	// and still loses the insert must settle as a redelivery, not an error.
	const deliveries = 6
	var wg sync.WaitGroup
	outcomes := make([]*EventOutcome, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := paidEvent(fmt.Sprintf("evt_%d", i))
			in.PaymentRef = "cs_shared"
			outcomes[i], errs[i] = f.service.HandlePaymentEvent(ctx, in)
		}(i)
	}
	wg.Wait()

	lic, err := f.store.LicenseByPaymentRef(ctx, license.SourceCheckout, "cs_shared")
	require.NoError(t, err)

	for i := 0; i < deliveries; i++ {
		require.NoError(t, errs[i], "delivery %d", i)
		assert.Equal(t, store.EventProcessed, outcomes[i].Status, "delivery %d", i)
		assert.Equal(t, lic.Code, outcomes[i].LicenseCode, "delivery %d", i)
	}

	// One license, one invoice, one email regardless of delivery count.
	n, err := f.store.InvoiceCounter(ctx, time.Now().UTC().Year())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.sender.sent, 1)
}

func TestHandlePaymentEventIgnoresOtherTypes(t *testing.T) {
	f := newOrderServiceFixture(t)

	in := paidEvent("evt_1")
	in.Type = "invoice.created"
	outcome, err := f.service.HandlePaymentEvent(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, store.EventIgnored, outcome.Status)
	assert.Empty(t, outcome.LicenseCode)
	assert.Empty(t, f.sender.sent)
}

func TestHandlePaymentEventIgnoresUnpaid(t *testing.T) {
	f := newOrderServiceFixture(t)

	in := paidEvent("evt_1")
	in.Paid = false
	outcome, err := f.service.HandlePaymentEvent(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, store.EventIgnored, outcome.Status)
	assert.Empty(t, f.sender.sent)
}

func TestHandlePaymentEventAmountMismatch(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	in := paidEvent("evt_1")
	in.AmountTotal = 999
	outcome, err := f.service.HandlePaymentEvent(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, store.EventError, outcome.Status)
	assert.Empty(t, outcome.LicenseCode)

	evt, err := f.store.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Contains(t, evt.Note, "amount mismatch")
}

func TestHandlePaymentEventMissingEmail(t *testing.T) {
	f := newOrderServiceFixture(t)

	in := paidEvent("evt_1")
	in.Email = " "
	outcome, err := f.service.HandlePaymentEvent(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, store.EventError, outcome.Status)
}

func TestHandlePaymentEventErroredEventIsRetried(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	// First delivery fails a business precondition and is journaled as an
	// error.
	in := paidEvent("evt_1")
	in.Email = ""
	outcome, err := f.service.HandlePaymentEvent(ctx, in)
	require.NoError(t, err)
	require.Equal(t, store.EventError, outcome.Status)

	// The redelivery carries the corrected payload and succeeds.
	outcome, err = f.service.HandlePaymentEvent(ctx, paidEvent("evt_1"))
	require.NoError(t, err)
	assert.Equal(t, store.EventProcessed, outcome.Status)
	assert.NotEmpty(t, outcome.LicenseCode)
}

func TestHandlePaymentEventEmailFailureSettlesWithError(t *testing.T) {
	f := newOrderServiceFixture(t)
	ctx := context.Background()

	f.sender.err = errors.New("smtp unreachable")

	outcome, err := f.service.HandlePaymentEvent(ctx, paidEvent("evt_1"))
	require.NoError(t, err)

	// License and invoice exist; the journal records the delivery failure.
	assert.Equal(t, store.EventError, outcome.Status)
	assert.NotEmpty(t, outcome.LicenseCode)
	assert.NotEmpty(t, outcome.InvoiceNumber)

	_, err = f.store.GetLicense(ctx, outcome.LicenseCode)
	assert.NoError(t, err)
}
