// Package store provides the transactional persistence layer for licenses,
// manual orders, the invoice ledger and its per-year counters, and the
// payment event journal. It is backed by SQLite (modernc.org/sqlite, pure Go).
//
// All correctness-sensitive mutations run through WithTx, which opens an
// immediate (write-locking) transaction so that concurrent read-modify-write
// sequences against the same row serialize instead of racing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// busyRetries bounds retries of a write transaction that cannot acquire the
// database lock within the busy timeout.
const busyRetries = 3

// Store wraps the SQLite database handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the database at path and applies the
// schema. The DSN enables WAL, a busy timeout and immediate write
// transactions.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?%s", url.PathEscape(path), url.Values{
		"_txlock": {"immediate"},
		"_pragma": {
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"foreign_keys(1)",
			"synchronous(NORMAL)",
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; more connections just queue on the lock.
	db.SetMaxOpenConns(4)

	s := &Store{
		db:     db,
		logger: logger.With(slog.String("component", "store")),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx is the handle passed to transaction bodies. All reads and writes made
// through it are scoped to one immediate transaction and become visible
// atomically on commit.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a write transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Lock-contention failures are retried
// a bounded number of times; fn must therefore be safe to re-run from the top,
// which holds for all callers because every body starts by re-reading the rows
// it mutates.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}

		err := s.runTx(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		lastErr = err
		s.logger.WarnContext(ctx, "transaction retry after lock contention",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return fmt.Errorf("transaction failed after %d retries: %w", busyRetries, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.ErrorContext(ctx, "rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isBusy detects SQLite lock contention from the driver's error text. The
// modernc driver does not export sentinel values for result codes.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS licenses (
	code                 TEXT PRIMARY KEY,
	email                TEXT NOT NULL,
	status               TEXT NOT NULL,
	device_id            TEXT NOT NULL DEFAULT '',
	created_at           TEXT NOT NULL,
	paid_at              TEXT NOT NULL,
	activated_at         TEXT,
	expires_at           TEXT NOT NULL,
	device_change_used   INTEGER NOT NULL DEFAULT 0,
	device_changed_at    TEXT,
	previous_device_id   TEXT NOT NULL DEFAULT '',
	device_change_reason TEXT NOT NULL DEFAULT '',
	recovery_used        INTEGER NOT NULL DEFAULT 0,
	recovery_used_at     TEXT,
	source               TEXT NOT NULL,
	payment_ref          TEXT NOT NULL,
	amount_total         INTEGER NOT NULL DEFAULT 0,
	currency             TEXT NOT NULL DEFAULT 'eur',
	last_error           TEXT NOT NULL DEFAULT '',
	updated_at           TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_payment_ref
	ON licenses(source, payment_ref);
CREATE INDEX IF NOT EXISTS idx_licenses_email ON licenses(email);

CREATE TABLE IF NOT EXISTS manual_orders (
	id             TEXT PRIMARY KEY,
	method         TEXT NOT NULL,
	email          TEXT NOT NULL,
	amount         INTEGER NOT NULL,
	currency       TEXT NOT NULL,
	reference      TEXT NOT NULL,
	status         TEXT NOT NULL,
	license_code   TEXT NOT NULL DEFAULT '',
	invoice_number TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	paid_at        TEXT,
	sent_at        TEXT,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_manual_orders_status ON manual_orders(status);

CREATE TABLE IF NOT EXISTS invoice_counters (
	year    INTEGER PRIMARY KEY,
	current INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS invoices (
	slug           TEXT PRIMARY KEY,
	invoice_number TEXT NOT NULL,
	issued_at      TEXT NOT NULL,
	email          TEXT NOT NULL,
	base           INTEGER NOT NULL,
	iva            INTEGER NOT NULL,
	ret            INTEGER NOT NULL,
	total          INTEGER NOT NULL,
	method         TEXT NOT NULL,
	order_id       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_invoices_issued_at ON invoices(issued_at);

CREATE TABLE IF NOT EXISTS payment_events (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	received_at    TEXT NOT NULL,
	processed_at   TEXT,
	status         TEXT NOT NULL,
	license_code   TEXT NOT NULL DEFAULT '',
	invoice_number TEXT NOT NULL DEFAULT '',
	note           TEXT NOT NULL DEFAULT ''
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Time columns are stored as RFC 3339 text in UTC. The fractional part is
// fixed-width: RFC3339Nano trims trailing zeros, which breaks lexicographic
// ordering of TEXT comparisons within one second ("...00.3Z" sorts before
// "...00Z"), and range queries compare these columns as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func decodeTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
