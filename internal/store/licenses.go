package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"licshop/internal/license"
)

const licenseColumns = `code, email, status, device_id, created_at, paid_at,
	activated_at, expires_at, device_change_used, device_changed_at,
	previous_device_id, device_change_reason, recovery_used, recovery_used_at,
	source, payment_ref, amount_total, currency, last_error, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*license.License, error) {
	var (
		l           license.License
		createdAt   string
		paidAt      string
		expiresAt   string
		updatedAt   string
		activatedAt sql.NullString
		changedAt   sql.NullString
		recoveredAt sql.NullString
	)
	err := row.Scan(
		&l.Code, &l.Email, &l.Status, &l.DeviceID, &createdAt, &paidAt,
		&activatedAt, &expiresAt, &l.DeviceChangeUsed, &changedAt,
		&l.PreviousDeviceID, &l.DeviceChangeReason, &l.RecoveryUsed, &recoveredAt,
		&l.Source, &l.PaymentRef, &l.AmountTotal, &l.Currency, &l.LastError, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan license: %w", err)
	}

	if l.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if l.PaidAt, err = decodeTime(paidAt); err != nil {
		return nil, fmt.Errorf("decode paid_at: %w", err)
	}
	if l.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	if l.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	if l.ActivatedAt, err = decodeTimePtr(activatedAt); err != nil {
		return nil, fmt.Errorf("decode activated_at: %w", err)
	}
	if l.DeviceChangedAt, err = decodeTimePtr(changedAt); err != nil {
		return nil, fmt.Errorf("decode device_changed_at: %w", err)
	}
	if l.RecoveryUsedAt, err = decodeTimePtr(recoveredAt); err != nil {
		return nil, fmt.Errorf("decode recovery_used_at: %w", err)
	}
	return &l, nil
}

// GetLicense returns the license for code outside of any transaction.
func (s *Store) GetLicense(ctx context.Context, code string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE code = ?`, code)
	return scanLicense(row)
}

// LicenseExists reports whether a license with code exists. Used by the
// issuer's candidate probing; the authoritative re-check happens inside the
// creating transaction.
func (s *Store) LicenseExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM licenses WHERE code = ?`, code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("license exists: %w", err)
	}
	return n > 0, nil
}

// LicenseByPaymentRef finds the license created for a payment reference, the
// idempotency guard used on every reconciliation retry path.
func (s *Store) LicenseByPaymentRef(ctx context.Context, source license.Source, paymentRef string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE source = ? AND payment_ref = ?`,
		source, paymentRef)
	return scanLicense(row)
}

// ActiveLicensesByEmail returns the purchaser's usable (issued or bound,
// neither revoked nor expired) licenses, newest paid first. Used by recovery.
func (s *Store) ActiveLicensesByEmail(ctx context.Context, email string) ([]*license.License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses
		 WHERE email = ? AND status IN (?, ?)
		 ORDER BY paid_at DESC, created_at DESC
		 LIMIT 20`,
		license.NormalizeEmail(email), license.StatusActive, license.StatusUsed)
	if err != nil {
		return nil, fmt.Errorf("licenses by email: %w", err)
	}
	defer rows.Close()

	var out []*license.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetLicense reads a license for update within the transaction.
func (t *Tx) GetLicense(code string) (*license.License, error) {
	row := t.tx.QueryRow(
		`SELECT `+licenseColumns+` FROM licenses WHERE code = ?`, code)
	return scanLicense(row)
}

// CreateLicense inserts a full license record. Returns
// license.ErrCodeCollision when the code already exists so the issuer can
// retry with a fresh candidate, and license.ErrDuplicatePaymentRef when the
// same payment was already fulfilled. A retry cannot recover from the latter
// since every attempt carries the same (source, payment_ref).
func (t *Tx) CreateLicense(l *license.License) error {
	_, err := t.tx.Exec(
		`INSERT INTO licenses (`+licenseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Code, l.Email, l.Status, l.DeviceID,
		encodeTime(l.CreatedAt), encodeTime(l.PaidAt),
		encodeTimePtr(l.ActivatedAt), encodeTime(l.ExpiresAt),
		l.DeviceChangeUsed, encodeTimePtr(l.DeviceChangedAt),
		l.PreviousDeviceID, l.DeviceChangeReason,
		l.RecoveryUsed, encodeTimePtr(l.RecoveryUsedAt),
		l.Source, l.PaymentRef, l.AmountTotal, l.Currency,
		l.LastError, encodeTime(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			// The driver names the failing constraint, which tells the
			// code PK apart from the (source, payment_ref) unique index.
			if strings.Contains(err.Error(), "payment_ref") {
				return fmt.Errorf("%w: %s %s",
					license.ErrDuplicatePaymentRef, l.Source, l.PaymentRef)
			}
			return license.ErrCodeCollision
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// UpdateLicense rewrites the mutable license fields.
func (t *Tx) UpdateLicense(l *license.License) error {
	res, err := t.tx.Exec(
		`UPDATE licenses SET
			status = ?, device_id = ?, activated_at = ?, expires_at = ?,
			device_change_used = ?, device_changed_at = ?, previous_device_id = ?,
			device_change_reason = ?, recovery_used = ?, recovery_used_at = ?,
			last_error = ?, updated_at = ?
		 WHERE code = ?`,
		l.Status, l.DeviceID, encodeTimePtr(l.ActivatedAt), encodeTime(l.ExpiresAt),
		l.DeviceChangeUsed, encodeTimePtr(l.DeviceChangedAt), l.PreviousDeviceID,
		l.DeviceChangeReason, l.RecoveryUsed, encodeTimePtr(l.RecoveryUsedAt),
		l.LastError, encodeTime(l.UpdatedAt), l.Code,
	)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateLicense inserts a license inside its own immediate transaction. It
// satisfies license.Store for the issuance service.
func (s *Store) CreateLicense(ctx context.Context, l *license.License) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.CreateLicense(l)
	})
}

// MutateLicense runs fn against the current license row inside one immediate
// transaction. fn reports whether it mutated the record; the write and fn's
// business result are independent, so a transition can both persist (e.g.
// flipping to expired) and fail the operation. It satisfies license.Store.
func (s *Store) MutateLicense(ctx context.Context, code string, fn func(l *license.License) (bool, error)) error {
	var resultErr error
	err := s.WithTx(ctx, func(tx *Tx) error {
		l, err := tx.GetLicense(code)
		if err != nil {
			return err
		}
		write, ferr := fn(l)
		resultErr = ferr
		if !write {
			return nil
		}
		return tx.UpdateLicense(l)
	})
	if err != nil {
		return err
	}
	return resultErr
}
