package license

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a license.
type Status string

const (
	// StatusActive means issued and not yet bound to a device.
	StatusActive Status = "active"
	// StatusUsed means bound to exactly one device.
	StatusUsed Status = "used"
	// StatusExpired means past its expiry date. Recoverable only through an
	// external renewal.
	StatusExpired Status = "expired"
	// StatusRevoked is terminal.
	StatusRevoked Status = "revoked"
	// StatusRefunded is terminal and treated like revoked for activation.
	StatusRefunded Status = "refunded"
)

// Source identifies how a license was paid for.
type Source string

const (
	SourceCheckout Source = "checkout"
	SourceManual   Source = "manual"
)

// License is the entitlement record binding a code to a purchaser and at most
// one device. The code doubles as the storage key and never changes after
// creation.
type License struct {
	Code  string
	Email string

	Status   Status
	DeviceID string // empty until first activation

	CreatedAt   time.Time
	PaidAt      time.Time
	ActivatedAt *time.Time
	ExpiresAt   time.Time

	DeviceChangeUsed    bool
	DeviceChangedAt     *time.Time
	PreviousDeviceID    string
	DeviceChangeReason  string

	RecoveryUsed   bool
	RecoveryUsedAt *time.Time

	Source      Source
	PaymentRef  string
	AmountTotal int64 // minor currency units
	Currency    string

	LastError string
	UpdatedAt time.Time
}

// Blocked reports whether the license is in a terminal state that forbids any
// activation or validation.
func (l *License) Blocked() bool {
	switch l.Status {
	case StatusRevoked, StatusRefunded:
		return true
	}
	return false
}

// ExpiredAt reports whether the license is past expiry at the given instant.
// A zero expiry is treated as expired rather than eternal.
func (l *License) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt.IsZero() || !now.Before(l.ExpiresAt)
}

// NormalizeEmail lower-cases and trims a purchaser email for storage and
// lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
