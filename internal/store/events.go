package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EventStatus tracks a payment event through the idempotency journal.
type EventStatus string

const (
	EventReceived  EventStatus = "received"
	EventIgnored   EventStatus = "ignored"
	EventProcessed EventStatus = "processed"
	EventError     EventStatus = "error"
)

// PaymentEvent is the journal entry for a trusted payment-provider event,
// keyed by the upstream event id. It guards exactly-once processing of
// redelivered events.
type PaymentEvent struct {
	ID          string
	Type        string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
	Status      EventStatus

	LicenseCode   string
	InvoiceNumber string
	Note          string
}

const eventColumns = `id, type, received_at, processed_at, status,
	license_code, invoice_number, note`

func scanEvent(row rowScanner) (*PaymentEvent, error) {
	var (
		e           PaymentEvent
		receivedAt  string
		processedAt sql.NullString
	)
	err := row.Scan(&e.ID, &e.Type, &receivedAt, &processedAt, &e.Status,
		&e.LicenseCode, &e.InvoiceNumber, &e.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	if e.ReceivedAt, err = decodeTime(receivedAt); err != nil {
		return nil, fmt.Errorf("decode received_at: %w", err)
	}
	if e.ProcessedAt, err = decodeTimePtr(processedAt); err != nil {
		return nil, fmt.Errorf("decode processed_at: %w", err)
	}
	return &e, nil
}

// GetEvent returns the journal entry for an event id.
func (s *Store) GetEvent(ctx context.Context, id string) (*PaymentEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM payment_events WHERE id = ?`, id)
	return scanEvent(row)
}

// GetEvent reads a journal entry within the transaction.
func (t *Tx) GetEvent(id string) (*PaymentEvent, error) {
	row := t.tx.QueryRow(
		`SELECT `+eventColumns+` FROM payment_events WHERE id = ?`, id)
	return scanEvent(row)
}

// InsertEvent records a newly received event.
func (t *Tx) InsertEvent(e *PaymentEvent) error {
	_, err := t.tx.Exec(
		`INSERT INTO payment_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, encodeTime(e.ReceivedAt), encodeTimePtr(e.ProcessedAt),
		e.Status, e.LicenseCode, e.InvoiceNumber, e.Note)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateEventStatus records the outcome of processing an event.
func (s *Store) UpdateEventStatus(ctx context.Context, id string, status EventStatus, licenseCode, invoiceNumber, note string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_events
		 SET status = ?, license_code = ?, invoice_number = ?, note = ?, processed_at = ?
		 WHERE id = ?`,
		status, licenseCode, invoiceNumber, note, encodeTime(at), id)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
