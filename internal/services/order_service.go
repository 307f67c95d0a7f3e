package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"licshop/internal/billing"
	"licshop/internal/config"
	apierrors "licshop/internal/errors"
	"licshop/internal/infrastructure"
	"licshop/internal/license"
	"licshop/internal/mail"
	"licshop/internal/pdf"
	"licshop/internal/store"
)

// EventTypeCheckoutCompleted is the only payment event type that produces a
// license; everything else is journaled and ignored.
const EventTypeCheckoutCompleted = "checkout.completed"

const referenceSuffixLength = 6

// OrderService owns the order lifecycle: manual order intake, admin
// completion of out-of-band payments, and reconciliation of trusted payment
// processor events.
type OrderService struct {
	store     *store.Store
	payment   config.PaymentConfig
	pricing   billing.Pricing
	currency  string
	fulfiller *fulfiller
	logger    *slog.Logger
	metrics   *infrastructure.BusinessMetrics
	now       func() time.Time
}

// NewOrderService wires the order service.
func NewOrderService(
	st *store.Store,
	issuer *license.Issuer,
	sender mail.Sender,
	renderer pdf.Renderer,
	pricing billing.Pricing,
	currency string,
	payment config.PaymentConfig,
	branding mail.Branding,
	logger *slog.Logger,
	metrics *infrastructure.BusinessMetrics,
) *OrderService {
	logger = logger.With(slog.String("service", "orders"))
	return &OrderService{
		store:    st,
		payment:  payment,
		pricing:  pricing,
		currency: currency,
		fulfiller: &fulfiller{
			store:    st,
			issuer:   issuer,
			sender:   sender,
			renderer: renderer,
			pricing:  pricing,
			currency: currency,
			branding: branding,
			logger:   logger,
			metrics:  metrics,
			now:      time.Now,
		},
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// PaymentInstructions tell the customer how to settle a manual order out of
// band. Only the fields for the chosen method are populated.
type PaymentInstructions struct {
	Method      store.PaymentMethod `json:"method"`
	Reference   string              `json:"reference"`
	Amount      string              `json:"amount"`
	AmountCents int64               `json:"amountCents"`
	Currency    string              `json:"currency"`
	BizumPhone  string              `json:"bizumPhone,omitempty"`
	BankIBAN    string              `json:"bankIban,omitempty"`
	BankHolder  string              `json:"bankHolder,omitempty"`
	ConceptHint string              `json:"conceptHint,omitempty"`
}

// CreateManualOrder registers a pending order for an out-of-band payment and
// returns the instructions the storefront shows the customer.
func (s *OrderService) CreateManualOrder(ctx context.Context, method store.PaymentMethod, email string) (string, *PaymentInstructions, error) {
	email = license.NormalizeEmail(email)

	switch method {
	case store.MethodBizum:
		if s.payment.BizumPhone == "" {
			return "", nil, apierrors.New(500, "BIZUM_PHONE_NOT_SET", "Bizum payments are not configured")
		}
	case store.MethodTransfer:
		if s.payment.BankIBAN == "" {
			return "", nil, apierrors.New(500, "BANK_IBAN_NOT_SET", "Bank transfers are not configured")
		}
	default:
		return "", nil, apierrors.ErrValidation("method", "must be bizum or transfer")
	}

	reference, err := newOrderReference(method)
	if err != nil {
		return "", nil, fmt.Errorf("generate order reference: %w", err)
	}

	now := s.now().UTC()
	order := &store.ManualOrder{
		ID:        uuid.New().String(),
		Method:    method,
		Email:     email,
		Amount:    s.pricing.TotalCents,
		Currency:  s.currency,
		Reference: reference,
		Status:    store.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return "", nil, fmt.Errorf("create order: %w", err)
	}
	if s.metrics != nil {
		s.metrics.OrdersCreated.Add(ctx, 1)
	}

	s.logger.InfoContext(ctx, "manual order created",
		slog.String("order_id", order.ID),
		slog.String("method", string(method)),
		slog.String("reference", reference),
	)

	instructions := &PaymentInstructions{
		Method:      method,
		Reference:   reference,
		Amount:      billing.FormatEuros(s.pricing.TotalCents),
		AmountCents: s.pricing.TotalCents,
		Currency:    s.currency,
	}
	switch method {
	case store.MethodBizum:
		instructions.BizumPhone = s.payment.BizumPhone
	case store.MethodTransfer:
		instructions.BankIBAN = s.payment.BankIBAN
		instructions.BankHolder = s.payment.BankHolder
		instructions.ConceptHint = s.payment.ReferenceHint
	}

	return order.ID, instructions, nil
}

// CompletionResult reports the outcome of confirming a manual order.
type CompletionResult struct {
	OrderID       string `json:"orderId"`
	LicenseCode   string `json:"licenseCode"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	EmailFailed   bool   `json:"emailFailed,omitempty"`
}

// CompleteManualOrder confirms that a pending order's payment arrived and
// runs fulfillment. The pending-to-processing transition is guarded so two
// concurrent confirmations of the same order produce exactly one license.
func (s *OrderService) CompleteManualOrder(ctx context.Context, orderID string) (*CompletionResult, error) {
	now := s.now().UTC()

	var order *store.ManualOrder
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if err := tx.MarkOrderProcessing(orderID, now); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := s.fulfiller.fulfill(ctx, fulfillmentInput{
		Email:      order.Email,
		Source:     license.SourceManual,
		PaymentRef: order.ID,
		Method:     string(order.Method),
		OrderID:    order.ID,
		PaidAt:     now,
	})
	if err != nil {
		if result == nil {
			// Nothing durable was created, so the order can safely go back
			// to pending for another attempt.
			if resetErr := s.store.ResetOrderPending(ctx, orderID, err.Error(), s.now().UTC()); resetErr != nil {
				s.logger.ErrorContext(ctx, "failed to reset order",
					slog.String("order_id", orderID),
					slog.String("error", resetErr.Error()),
				)
			}
			return nil, err
		}
		// A license exists but the invoice could not be recorded. The order
		// must not be retried blindly, an operator has to look at it.
		if updErr := s.store.UpdateOrderOutcome(ctx, orderID, store.OrderError,
			result.License.Code, "", err.Error(), s.now().UTC()); updErr != nil {
			s.logger.ErrorContext(ctx, "failed to record order error",
				slog.String("order_id", orderID),
				slog.String("error", updErr.Error()),
			)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PaymentsProcessed.Add(ctx, 1)
	}

	if result.EmailErr != nil {
		s.logger.WarnContext(ctx, "license created but email failed",
			slog.String("order_id", orderID),
			slog.String("invoice", result.InvoiceNumber),
			slog.String("error", result.EmailErr.Error()),
		)
		if err := s.store.UpdateOrderOutcome(ctx, orderID, store.OrderEmailFailed,
			result.License.Code, result.InvoiceNumber, result.EmailErr.Error(), s.now().UTC()); err != nil {
			return nil, fmt.Errorf("record email failure: %w", err)
		}
		return &CompletionResult{
			OrderID:       orderID,
			LicenseCode:   result.License.Code,
			InvoiceNumber: result.InvoiceNumber,
			EmailFailed:   true,
		}, nil
	}

	if err := s.store.UpdateOrderOutcome(ctx, orderID, store.OrderLicenseSent,
		result.License.Code, result.InvoiceNumber, "", s.now().UTC()); err != nil {
		return nil, fmt.Errorf("record order completion: %w", err)
	}

	return &CompletionResult{
		OrderID:       orderID,
		LicenseCode:   result.License.Code,
		InvoiceNumber: result.InvoiceNumber,
	}, nil
}

// PaymentEventInput is a trusted payment processor notification after
// transport-level authentication.
type PaymentEventInput struct {
	ID          string
	Type        string
	Paid        bool
	Email       string
	PaymentRef  string
	AmountTotal int64
	Currency    string
	OccurredAt  time.Time
}

// EventOutcome reports what the journal recorded for an event.
type EventOutcome struct {
	EventID       string            `json:"eventId"`
	Status        store.EventStatus `json:"status"`
	LicenseCode   string            `json:"licenseCode,omitempty"`
	InvoiceNumber string            `json:"invoiceNumber,omitempty"`
}

// HandlePaymentEvent reconciles one webhook event. The journal entry is
// written first so redeliveries of an already settled event are no-ops;
// events that previously errored are retried, and retries detect an already
// issued license through the payment reference.
func (s *OrderService) HandlePaymentEvent(ctx context.Context, in PaymentEventInput) (*EventOutcome, error) {
	if in.ID == "" {
		return nil, apierrors.ErrValidation("id", "event id is required")
	}
	now := s.now().UTC()

	var settled *store.PaymentEvent
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		settled = nil
		existing, err := tx.GetEvent(in.ID)
		if errors.Is(err, store.ErrNotFound) {
			return tx.InsertEvent(&store.PaymentEvent{
				ID:         in.ID,
				Type:       in.Type,
				ReceivedAt: now,
				Status:     store.EventReceived,
			})
		}
		if err != nil {
			return err
		}
		if existing.Status == store.EventProcessed || existing.Status == store.EventIgnored {
			settled = existing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal event: %w", err)
	}
	if settled != nil {
		s.logger.InfoContext(ctx, "event already settled",
			slog.String("event_id", in.ID),
			slog.String("status", string(settled.Status)),
		)
		return &EventOutcome{
			EventID:       settled.ID,
			Status:        settled.Status,
			LicenseCode:   settled.LicenseCode,
			InvoiceNumber: settled.InvoiceNumber,
		}, nil
	}

	if in.Type != EventTypeCheckoutCompleted {
		return s.settleEvent(ctx, in.ID, store.EventIgnored, "", "", "unsupported event type")
	}
	if !in.Paid {
		return s.settleEvent(ctx, in.ID, store.EventIgnored, "", "", "not_paid")
	}

	email := license.NormalizeEmail(in.Email)
	if email == "" {
		return s.settleEvent(ctx, in.ID, store.EventError, "", "", "missing customer email")
	}
	if in.PaymentRef == "" {
		return s.settleEvent(ctx, in.ID, store.EventError, "", "", "missing payment reference")
	}
	if in.AmountTotal > 0 && in.AmountTotal != s.pricing.TotalCents {
		note := fmt.Sprintf("amount mismatch: got %d, want %d", in.AmountTotal, s.pricing.TotalCents)
		return s.settleEvent(ctx, in.ID, store.EventError, "", "", note)
	}

	// A redelivered event whose first attempt already created the license
	// must not create a second one.
	existing, err := s.store.LicenseByPaymentRef(ctx, license.SourceCheckout, in.PaymentRef)
	if err == nil {
		return s.settleEvent(ctx, in.ID, store.EventProcessed, existing.Code, "", "license already exists")
	}
	if !errors.Is(err, license.ErrNotFound) {
		return nil, fmt.Errorf("check payment reference: %w", err)
	}

	paidAt := in.OccurredAt
	if paidAt.IsZero() {
		paidAt = now
	}

	result, err := s.fulfiller.fulfill(ctx, fulfillmentInput{
		Email:      email,
		Source:     license.SourceCheckout,
		PaymentRef: in.PaymentRef,
		Method:     "checkout",
		PaidAt:     paidAt,
	})
	if err != nil {
		// A concurrent delivery of the same payment can win the license
		// insert after the guard above ran. That delivery owns the
		// artifacts; this one settles like any other redelivery.
		if errors.Is(err, license.ErrDuplicatePaymentRef) {
			winner, lookupErr := s.store.LicenseByPaymentRef(ctx, license.SourceCheckout, in.PaymentRef)
			if lookupErr == nil {
				return s.settleEvent(ctx, in.ID, store.EventProcessed, winner.Code, "", "license already exists")
			}
			err = fmt.Errorf("duplicate payment reference, lookup failed: %w", lookupErr)
		}
		code := ""
		if result != nil {
			code = result.License.Code
		}
		if _, settleErr := s.settleEvent(ctx, in.ID, store.EventError, code, "", err.Error()); settleErr != nil {
			s.logger.ErrorContext(ctx, "failed to record event error",
				slog.String("event_id", in.ID),
				slog.String("error", settleErr.Error()),
			)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PaymentsProcessed.Add(ctx, 1)
	}

	if result.EmailErr != nil {
		s.logger.WarnContext(ctx, "license created but email failed",
			slog.String("event_id", in.ID),
			slog.String("invoice", result.InvoiceNumber),
			slog.String("error", result.EmailErr.Error()),
		)
		return s.settleEvent(ctx, in.ID, store.EventError,
			result.License.Code, result.InvoiceNumber,
			"email failed: "+result.EmailErr.Error())
	}

	return s.settleEvent(ctx, in.ID, store.EventProcessed,
		result.License.Code, result.InvoiceNumber, "")
}

func (s *OrderService) settleEvent(ctx context.Context, id string, status store.EventStatus, code, invoice, note string) (*EventOutcome, error) {
	if status == store.EventIgnored && s.metrics != nil {
		s.metrics.PaymentsIgnored.Add(ctx, 1)
	}
	if err := s.store.UpdateEventStatus(ctx, id, status, code, invoice, note, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("settle event: %w", err)
	}
	return &EventOutcome{
		EventID:       id,
		Status:        status,
		LicenseCode:   code,
		InvoiceNumber: invoice,
	}, nil
}

// newOrderReference builds a short human-typable payment reference like
// "LIC-BIZ-7KQ2MF". The suffix uses the license code alphabet so customers
// never have to distinguish 0 from O.
func newOrderReference(method store.PaymentMethod) (string, error) {
	prefix := "LIC-TRF"
	if method == store.MethodBizum {
		prefix = "LIC-BIZ"
	}

	buf := make([]byte, referenceSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range buf {
		b.WriteByte(license.Alphabet[int(c)%len(license.Alphabet)])
	}
	return prefix + "-" + b.String(), nil
}
