package services

import (
	"context"
	"log/slog"

	"licshop/internal/infrastructure"
	"licshop/internal/license"
	"licshop/internal/mail"
)

// LicenseService fronts the license lifecycle for the HTTP layer and adds
// the pieces the domain manager stays out of: metrics and recovery email
// dispatch.
type LicenseService struct {
	manager  *license.Manager
	sender   mail.Sender
	branding mail.Branding
	logger   *slog.Logger
	metrics  *infrastructure.BusinessMetrics
}

// NewLicenseService wires the license service.
func NewLicenseService(
	manager *license.Manager,
	sender mail.Sender,
	branding mail.Branding,
	logger *slog.Logger,
	metrics *infrastructure.BusinessMetrics,
) *LicenseService {
	return &LicenseService{
		manager:  manager,
		sender:   sender,
		branding: branding,
		logger:   logger.With(slog.String("service", "licenses")),
		metrics:  metrics,
	}
}

// Activate binds a code to a device.
func (s *LicenseService) Activate(ctx context.Context, code, deviceID string) (*license.ActivationResult, error) {
	if s.metrics != nil {
		s.metrics.LicenseActivationAttempts.Add(ctx, 1)
	}
	result, err := s.manager.Activate(ctx, code, deviceID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LicenseActivationSuccess.Add(ctx, 1)
	}
	return result, nil
}

// Validate re-checks a license from its bound device.
func (s *LicenseService) Validate(ctx context.Context, code, deviceID string) (*license.ValidationResult, error) {
	if s.metrics != nil {
		s.metrics.LicenseValidationChecks.Add(ctx, 1)
	}
	result, err := s.manager.ValidateOnline(ctx, code, deviceID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.LicenseValidationFailures.Add(ctx, 1)
		}
		return nil, err
	}
	return result, nil
}

// ChangeDevice rebinds a license to a new device on behalf of support.
func (s *LicenseService) ChangeDevice(ctx context.Context, code, newDeviceID, reason string) (*license.DeviceChangeResult, error) {
	return s.manager.ChangeDevice(ctx, code, newDeviceID, reason)
}

// Recover looks up the purchaser's most recent usable license and emails the
// code. The outcome is deliberately opaque: whether or not the email matched
// anything, the caller gets the same nil result, so the endpoint cannot be
// used to probe which addresses bought a license. Only the send error for a
// real match is surfaced.
func (s *LicenseService) Recover(ctx context.Context, email string) error {
	lic, err := s.manager.RecoverByEmail(ctx, email)
	if err != nil {
		return err
	}
	if lic == nil {
		return nil
	}

	msg, err := mail.RecoveryMessage(s.branding, lic.Email, lic.Code, lic.ExpiresAt)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		if s.metrics != nil {
			s.metrics.EmailFailures.Add(ctx, 1)
		}
		s.logger.ErrorContext(ctx, "recovery email failed",
			slog.String("error", err.Error()),
		)
		return err
	}
	if s.metrics != nil {
		s.metrics.EmailsSent.Add(ctx, 1)
	}
	s.logger.InfoContext(ctx, "recovery email sent",
		slog.String("code", lic.Code),
	)
	return nil
}
