package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrOrderNotPending signals a state transition attempted on an order that
// already left the pending state.
var ErrOrderNotPending = errors.New("order is not pending")

// OrderStatus tracks a manual order through its lifetime. Orders are never
// deleted; terminal states keep the audit trail.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderPaidProcessing OrderStatus = "paid_processing"
	OrderLicenseSent    OrderStatus = "license_sent"
	// OrderEmailFailed means license and invoice exist but the notification
	// could not be delivered; an operator resends manually.
	OrderEmailFailed OrderStatus = "license_created_email_failed"
	OrderError       OrderStatus = "error"
)

// PaymentMethod is how a manual order is paid out of band.
type PaymentMethod string

const (
	MethodBizum    PaymentMethod = "bizum"
	MethodTransfer PaymentMethod = "transfer"
)

// ManualOrder is a purchase awaiting (or past) admin confirmation of an
// out-of-band payment.
type ManualOrder struct {
	ID        string
	Method    PaymentMethod
	Email     string
	Amount    int64 // minor currency units
	Currency  string
	Reference string
	Status    OrderStatus

	LicenseCode   string
	InvoiceNumber string
	Error         string

	CreatedAt time.Time
	PaidAt    *time.Time
	SentAt    *time.Time
	UpdatedAt time.Time
}

const orderColumns = `id, method, email, amount, currency, reference, status,
	license_code, invoice_number, error, created_at, paid_at, sent_at, updated_at`

func scanOrder(row rowScanner) (*ManualOrder, error) {
	var (
		o         ManualOrder
		createdAt string
		updatedAt string
		paidAt    sql.NullString
		sentAt    sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.Method, &o.Email, &o.Amount, &o.Currency, &o.Reference,
		&o.Status, &o.LicenseCode, &o.InvoiceNumber, &o.Error,
		&createdAt, &paidAt, &sentAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if o.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if o.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	if o.PaidAt, err = decodeTimePtr(paidAt); err != nil {
		return nil, fmt.Errorf("decode paid_at: %w", err)
	}
	if o.SentAt, err = decodeTimePtr(sentAt); err != nil {
		return nil, fmt.Errorf("decode sent_at: %w", err)
	}
	return &o, nil
}

// CreateOrder inserts a new pending order.
func (s *Store) CreateOrder(ctx context.Context, o *ManualOrder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manual_orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Method, o.Email, o.Amount, o.Currency, o.Reference, o.Status,
		o.LicenseCode, o.InvoiceNumber, o.Error,
		encodeTime(o.CreatedAt), encodeTimePtr(o.PaidAt), encodeTimePtr(o.SentAt),
		encodeTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder returns the order with id.
func (s *Store) GetOrder(ctx context.Context, id string) (*ManualOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM manual_orders WHERE id = ?`, id)
	return scanOrder(row)
}

// ListOrdersByStatus returns orders in a given status, newest first.
func (s *Store) ListOrdersByStatus(ctx context.Context, status OrderStatus, limit int) ([]*ManualOrder, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM manual_orders
		 WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*ManualOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOrder reads an order within the transaction.
func (t *Tx) GetOrder(id string) (*ManualOrder, error) {
	row := t.tx.QueryRow(
		`SELECT `+orderColumns+` FROM manual_orders WHERE id = ?`, id)
	return scanOrder(row)
}

// MarkOrderProcessing transitions an order from pending to paid_processing.
// The WHERE clause re-checks the status so that of two concurrent admin
// confirmations exactly one succeeds; the loser gets ErrOrderNotPending.
func (t *Tx) MarkOrderProcessing(id string, paidAt time.Time) error {
	res, err := t.tx.Exec(
		`UPDATE manual_orders
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		OrderPaidProcessing, encodeTime(paidAt), encodeTime(paidAt),
		id, OrderPending)
	if err != nil {
		return fmt.Errorf("mark order processing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := t.GetOrder(id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrOrderNotPending
	}
	return nil
}

// UpdateOrderOutcome records the terminal state of an order together with the
// issued license code, invoice number and any notification error.
func (s *Store) UpdateOrderOutcome(ctx context.Context, id string, status OrderStatus, licenseCode, invoiceNumber, errMsg string, at time.Time) error {
	var sentAt any
	if status == OrderLicenseSent {
		sentAt = encodeTime(at)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE manual_orders
		 SET status = ?, license_code = ?, invoice_number = ?, error = ?,
		     sent_at = COALESCE(?, sent_at), updated_at = ?
		 WHERE id = ?`,
		status, licenseCode, invoiceNumber, errMsg, sentAt, encodeTime(at), id)
	if err != nil {
		return fmt.Errorf("update order outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetOrderPending returns an order to pending after a failure that happened
// before any license was durably created, keeping it safely retryable.
func (s *Store) ResetOrderPending(ctx context.Context, id string, errMsg string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE manual_orders
		 SET status = ?, error = ?, paid_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		OrderPending, errMsg, encodeTime(at), id, OrderPaidProcessing)
	if err != nil {
		return fmt.Errorf("reset order pending: %w", err)
	}
	return nil
}
