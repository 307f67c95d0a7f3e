// Package billing holds invoice numbering and amount computation. Invoice
// numbers are a fiscal requirement: per calendar year they form a gap-free
// monotonically increasing sequence, so the counter is only ever advanced
// inside a storage transaction and never speculatively.
package billing

import (
	"fmt"
	"strings"
	"time"
)

// Invoice is an append-only ledger entry. Once written it is never mutated.
// All amounts are in minor currency units (cents).
type Invoice struct {
	Slug          string // primary key, "N-YYYY"
	InvoiceNumber string // "N/YYYY"
	IssuedAt      time.Time
	Email         string
	Base          int64
	IVA           int64
	Ret           int64
	Total         int64
	Method        string
	OrderID       string
}

// Slug derives the storage key from an invoice number: "3/2026" -> "3-2026".
// Keying the ledger by slug makes duplicate inserts a constraint violation
// instead of a silent second row.
func Slug(invoiceNumber string) string {
	return strings.ReplaceAll(invoiceNumber, "/", "-")
}

// CounterTx is the transactional counter access the sequencer needs,
// implemented by the storage layer's transaction handle.
type CounterTx interface {
	// IncrementInvoiceCounter atomically advances the counter for year,
	// creating it at 1 when the year has no invoices yet, and returns the
	// advanced value.
	IncrementInvoiceCounter(year int) (int, error)
}

// NextInvoiceNumber allocates the next invoice number for the calendar year
// of now. Must be called exactly once per invoice: numbers are never reused
// or voided, so callers allocate only after every precondition for writing
// the invoice has been met.
func NextInvoiceNumber(tx CounterTx, now time.Time) (string, error) {
	year := now.Year()
	n, err := tx.IncrementInvoiceCounter(year)
	if err != nil {
		return "", fmt.Errorf("advance invoice counter for %d: %w", year, err)
	}
	return fmt.Sprintf("%d/%d", n, year), nil
}
