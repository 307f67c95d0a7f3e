package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// deviceChangeWindow is the rolling window within which only one device
// change is allowed.
const deviceChangeWindow = 365 * 24 * time.Hour

// Manager implements the runtime-facing license lifecycle: activation,
// periodic online validation, support-gated device changes and one-shot
// recovery by email. Every state transition for a given code is linearized
// through the store's per-row transaction; nothing here relies on in-process
// locking.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a lifecycle manager bound to a store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With(slog.String("component", "license_manager")),
		now:    time.Now,
	}
}

// ActivationResult reports a successful activation or validation.
type ActivationResult struct {
	Code            string    `json:"code"`
	DeviceID        string    `json:"deviceId"`
	ExpiresAt       time.Time `json:"expiresAt"`
	FirstActivation bool      `json:"firstActivation"`
}

// Activate binds a license code to a device. The first activation claims the
// device slot; repeating it from the same device is an idempotent no-op; any
// other device is rejected, because a license binds exactly one device at a
// time and moving it requires the explicit device-change operation.
func (m *Manager) Activate(ctx context.Context, code, deviceID string) (*ActivationResult, error) {
	code = NormalizeCode(code)
	if !IsValidCodeFormat(code) {
		return nil, fmt.Errorf("%w: malformed code", ErrNotFound)
	}
	if deviceID == "" {
		return nil, errors.New("device id required")
	}

	var result ActivationResult
	err := m.store.MutateLicense(ctx, code, func(l *License) (bool, error) {
		now := m.now()

		if l.Blocked() {
			return false, ErrBlocked
		}
		if l.ExpiredAt(now) {
			// Persist the transition so subsequent reads see the real state.
			if l.Status != StatusExpired {
				l.Status = StatusExpired
				l.UpdatedAt = now
				return true, ErrExpired
			}
			return false, ErrExpired
		}

		switch {
		case l.DeviceID == "":
			l.DeviceID = deviceID
			l.Status = StatusUsed
			l.ActivatedAt = &now
			l.UpdatedAt = now
			result = ActivationResult{Code: l.Code, DeviceID: deviceID, ExpiresAt: l.ExpiresAt, FirstActivation: true}
			return true, nil
		case l.DeviceID == deviceID:
			result = ActivationResult{Code: l.Code, DeviceID: deviceID, ExpiresAt: l.ExpiresAt, FirstActivation: false}
			return false, nil
		default:
			return false, ErrDeviceMismatch
		}
	})
	if err != nil {
		return nil, err
	}

	if result.FirstActivation {
		m.logger.InfoContext(ctx, "license activated",
			slog.String("code", maskCode(code)))
	}
	return &result, nil
}

// ValidationResult reports a periodic online re-check.
type ValidationResult struct {
	Code      string    `json:"code"`
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expiresAt"`
	DaysLeft  int       `json:"daysLeft"`
}

// ValidateOnline re-checks a license from a device. Transitions are the same
// as Activate; expiry always runs from payment time and a validation never
// extends it.
func (m *Manager) ValidateOnline(ctx context.Context, code, deviceID string) (*ValidationResult, error) {
	res, err := m.Activate(ctx, code, deviceID)
	if err != nil {
		return nil, err
	}
	days := int(time.Until(res.ExpiresAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &ValidationResult{
		Code:      res.Code,
		Valid:     true,
		ExpiresAt: res.ExpiresAt,
		DaysLeft:  days,
	}, nil
}

// DeviceChangeResult reports a completed device change.
type DeviceChangeResult struct {
	Code             string    `json:"code"`
	PreviousDeviceID string    `json:"previousDeviceId,omitempty"`
	DeviceID         string    `json:"deviceId"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// ChangeDevice rebinds a license to a new device. Support-gated; at most one
// change per rolling 365 days.
func (m *Manager) ChangeDevice(ctx context.Context, code, newDeviceID, reason string) (*DeviceChangeResult, error) {
	code = NormalizeCode(code)
	if !IsValidCodeFormat(code) {
		return nil, fmt.Errorf("%w: malformed code", ErrNotFound)
	}
	if newDeviceID == "" {
		return nil, errors.New("new device id required")
	}

	var result DeviceChangeResult
	err := m.store.MutateLicense(ctx, code, func(l *License) (bool, error) {
		now := m.now()

		switch l.Status {
		case StatusActive, StatusUsed:
		case StatusExpired:
			return false, ErrExpired
		default:
			return false, ErrNotActive
		}
		if l.ExpiredAt(now) {
			if l.Status != StatusExpired {
				l.Status = StatusExpired
				l.UpdatedAt = now
				return true, ErrExpired
			}
			return false, ErrExpired
		}

		if l.DeviceChangedAt != nil && now.Sub(*l.DeviceChangedAt) < deviceChangeWindow {
			return false, ErrDeviceChangeUsed
		}
		// Legacy records may carry the flag without a timestamp; without a
		// date the window cannot be computed, so the block stands.
		if l.DeviceChangeUsed && l.DeviceChangedAt == nil {
			return false, ErrDeviceChangeUsed
		}

		l.PreviousDeviceID = l.DeviceID
		l.DeviceID = newDeviceID
		l.Status = StatusUsed
		if l.ActivatedAt == nil {
			l.ActivatedAt = &now
		}
		l.DeviceChangeUsed = true
		l.DeviceChangedAt = &now
		l.DeviceChangeReason = reason
		l.UpdatedAt = now

		result = DeviceChangeResult{
			Code:             l.Code,
			PreviousDeviceID: l.PreviousDeviceID,
			DeviceID:         newDeviceID,
			ExpiresAt:        l.ExpiresAt,
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "license device changed",
		slog.String("code", maskCode(code)))
	return &result, nil
}

// RecoverByEmail marks the one-shot recovery flag on the purchaser's most
// recent usable license and returns it so the caller can dispatch the code.
// A nil license with nil error means nothing matched; callers must answer
// with the same generic message either way to avoid leaking whether an email
// has a license.
func (m *Manager) RecoverByEmail(ctx context.Context, email string) (*License, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, errors.New("email required")
	}

	candidates, err := m.store.ActiveLicensesByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find licenses: %w", err)
	}

	now := m.now()
	var chosen *License
	for _, c := range candidates {
		if c.Blocked() || c.ExpiredAt(now) {
			continue
		}
		chosen = c
		break // newest paid first
	}
	if chosen == nil {
		return nil, nil
	}
	if chosen.RecoveryUsed {
		return nil, ErrRecoveryUsed
	}

	// Re-check inside the transaction to stop a double-submission from
	// dispatching two recovery emails.
	err = m.store.MutateLicense(ctx, chosen.Code, func(l *License) (bool, error) {
		if l.Blocked() || l.ExpiredAt(m.now()) {
			return false, ErrNotActive
		}
		if l.RecoveryUsed {
			return false, ErrRecoveryUsed
		}
		ts := m.now()
		l.RecoveryUsed = true
		l.RecoveryUsedAt = &ts
		l.UpdatedAt = ts
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "license recovery dispatched",
		slog.String("code", maskCode(chosen.Code)))
	return chosen, nil
}
