package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"licshop/internal/billing"
)

// IncrementInvoiceCounter implements billing.CounterTx. The read and the
// write happen inside the surrounding immediate transaction, so concurrent
// allocations serialize on the year's row and the sequence stays gap-free.
func (t *Tx) IncrementInvoiceCounter(year int) (int, error) {
	var current int
	err := t.tx.QueryRow(
		`SELECT current FROM invoice_counters WHERE year = ?`, year).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := t.tx.Exec(
			`INSERT INTO invoice_counters (year, current) VALUES (?, 1)`, year); err != nil {
			return 0, fmt.Errorf("create counter: %w", err)
		}
		return 1, nil
	case err != nil:
		return 0, fmt.Errorf("read counter: %w", err)
	}

	current++
	if _, err := t.tx.Exec(
		`UPDATE invoice_counters SET current = ? WHERE year = ?`, current, year); err != nil {
		return 0, fmt.Errorf("advance counter: %w", err)
	}
	return current, nil
}

// InsertInvoice appends a ledger entry. The slug primary key turns duplicate
// inserts into a loud failure.
func (t *Tx) InsertInvoice(inv *billing.Invoice) error {
	_, err := t.tx.Exec(
		`INSERT INTO invoices
		 (slug, invoice_number, issued_at, email, base, iva, ret, total, method, order_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.Slug, inv.InvoiceNumber, encodeTime(inv.IssuedAt), inv.Email,
		inv.Base, inv.IVA, inv.Ret, inv.Total, inv.Method, inv.OrderID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice %s already recorded: %w", inv.Slug, err)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// ListInvoices returns ledger entries issued within [start, end), oldest
// first.
func (s *Store) ListInvoices(ctx context.Context, start, end time.Time) ([]*billing.Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, invoice_number, issued_at, email, base, iva, ret, total, method, order_id
		 FROM invoices
		 WHERE issued_at >= ? AND issued_at < ?
		 ORDER BY issued_at ASC`,
		encodeTime(start), encodeTime(end))
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []*billing.Invoice
	for rows.Next() {
		var (
			inv      billing.Invoice
			issuedAt string
		)
		if err := rows.Scan(&inv.Slug, &inv.InvoiceNumber, &issuedAt, &inv.Email,
			&inv.Base, &inv.IVA, &inv.Ret, &inv.Total, &inv.Method, &inv.OrderID); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		if inv.IssuedAt, err = decodeTime(issuedAt); err != nil {
			return nil, fmt.Errorf("decode issued_at: %w", err)
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

// InvoiceCounter returns the current counter value for a year, 0 when the
// year has no invoices yet.
func (s *Store) InvoiceCounter(ctx context.Context, year int) (int, error) {
	var current int
	err := s.db.QueryRowContext(ctx,
		`SELECT current FROM invoice_counters WHERE year = ?`, year).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return current, nil
}
