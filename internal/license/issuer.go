package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxIssueAttempts bounds the generate-and-probe loop. At this
// keyspace a single collision is already extraordinary; hitting the cap
// means the storage layer is misbehaving, not bad luck.
const DefaultMaxIssueAttempts = 20

// Store is the persistence contract the license domain needs. Implemented by
// the storage layer; every method that mutates does so inside one atomic
// transaction scoped to the license row it touches.
type Store interface {
	// LicenseExists reports whether a code is taken.
	LicenseExists(ctx context.Context, code string) (bool, error)
	// GetLicense returns the license for a code, or ErrNotFound.
	GetLicense(ctx context.Context, code string) (*License, error)
	// ActiveLicensesByEmail returns a purchaser's active licenses, newest
	// paid first.
	ActiveLicensesByEmail(ctx context.Context, email string) ([]*License, error)
	// CreateLicense atomically inserts a new license. Returns
	// ErrCodeCollision when the code was taken between probe and commit,
	// and ErrDuplicatePaymentRef when a license for the same
	// (source, payment_ref) already exists.
	CreateLicense(ctx context.Context, l *License) error
	// MutateLicense atomically applies fn to the current record. fn returns
	// whether the record was mutated and the business outcome; the mutation
	// is persisted even when the outcome is an error.
	MutateLicense(ctx context.Context, code string, fn func(l *License) (bool, error)) error
}

// Issuer mints collision-free license codes and creates license records.
type Issuer struct {
	store       Store
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

// NewIssuer creates an issuer bound to a store.
func NewIssuer(store Store, logger *slog.Logger) *Issuer {
	return &Issuer{
		store:       store,
		logger:      logger.With(slog.String("component", "license_issuer")),
		maxAttempts: DefaultMaxIssueAttempts,
		now:         time.Now,
	}
}

// IssueInput carries everything needed to create a license at purchase time.
type IssueInput struct {
	Email       string
	Source      Source
	PaymentRef  string
	AmountTotal int64
	Currency    string
	PaidAt      time.Time
}

// IssueUniqueCode generates a candidate code and probes the store until an
// unused one is found. Fails with ErrCodeSpaceExhausted after the attempt cap.
func (i *Issuer) IssueUniqueCode(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}

		exists, err := i.store.LicenseExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("probe code: %w", err)
		}
		if !exists {
			return code, nil
		}

		i.logger.WarnContext(ctx, "license code collision on probe",
			slog.Int("attempt", attempt))
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, i.maxAttempts)
}

// CreateLicense mints a unique code and writes the full license record. The
// insert re-checks the code inside its transaction; on the (extraordinary)
// race where the code appeared after probing, the whole issuance is retried
// with a fresh code rather than just the commit. Any other insert failure,
// including ErrDuplicatePaymentRef, is returned as is since a fresh code
// cannot change it.
func (i *Issuer) CreateLicense(ctx context.Context, in IssueInput) (*License, error) {
	if in.Email == "" {
		return nil, errors.New("email required")
	}
	if in.PaymentRef == "" {
		return nil, errors.New("payment reference required")
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = i.now()
	}

	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		code, err := i.IssueUniqueCode(ctx)
		if err != nil {
			return nil, err
		}

		now := i.now()
		l := &License{
			Code:        code,
			Email:       NormalizeEmail(in.Email),
			Status:      StatusActive,
			CreatedAt:   now,
			PaidAt:      paidAt,
			ExpiresAt:   paidAt.AddDate(1, 0, 0),
			Source:      in.Source,
			PaymentRef:  in.PaymentRef,
			AmountTotal: in.AmountTotal,
			Currency:    in.Currency,
			UpdatedAt:   now,
		}

		err = i.store.CreateLicense(ctx, l)
		if err == nil {
			i.logger.InfoContext(ctx, "license issued",
				slog.String("code", maskCode(code)),
				slog.String("source", string(in.Source)))
			return l, nil
		}
		if errors.Is(err, ErrCodeCollision) {
			i.logger.WarnContext(ctx, "license code collision on commit",
				slog.Int("attempt", attempt))
			continue
		}
		return nil, fmt.Errorf("create license: %w", err)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, i.maxAttempts)
}

// maskCode keeps only the first group for logs.
func maskCode(code string) string {
	if len(code) < 4 {
		return "****"
	}
	return code[:4] + "-****-****"
}
