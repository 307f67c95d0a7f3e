package license

import "errors"

// Sentinel errors for license operations. Handlers map these onto RFC 7807
// problem responses; see internal/errors.
var (
	ErrNotFound            = errors.New("license not found")
	ErrBlocked             = errors.New("license blocked")
	ErrExpired             = errors.New("license expired")
	ErrNotActive           = errors.New("license not active")
	ErrDeviceMismatch      = errors.New("license bound to a different device")
	ErrDeviceChangeUsed    = errors.New("device change already used")
	ErrRecoveryUsed        = errors.New("recovery already used")
	ErrCodeCollision       = errors.New("license code already exists")
	ErrCodeSpaceExhausted  = errors.New("could not generate a unique license code")
	ErrDuplicatePaymentRef = errors.New("payment reference already fulfilled")
)
