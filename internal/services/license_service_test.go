package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licshop/internal/license"
	"licshop/internal/store"
)

func newLicenseServiceFixture(t *testing.T) (*LicenseService, *store.Store, *fakeSender) {
	t.Helper()
	logger := testLogger()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sender := &fakeSender{}
	svc := NewLicenseService(license.NewManager(st, logger), sender, testBranding, logger, nil)
	return svc, st, sender
}

func seedServiceLicense(t *testing.T, st *store.Store, code, email string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateLicense(context.Background(), &license.License{
		Code:      code,
		Email:     email,
		Status:    license.StatusActive,
		Source:    license.SourceManual,
		PaidAt:    now,
		ExpiresAt: now.AddDate(1, 0, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestLicenseServiceActivateAndValidate(t *testing.T) {
	svc, st, _ := newLicenseServiceFixture(t)
	ctx := context.Background()
	seedServiceLicense(t, st, "ABCD-EFGH-JKMN", "buyer@example.com")

	res, err := svc.Activate(ctx, "ABCD-EFGH-JKMN", "device-1")
	require.NoError(t, err)
	assert.True(t, res.FirstActivation)

	val, err := svc.Validate(ctx, "ABCD-EFGH-JKMN", "device-1")
	require.NoError(t, err)
	assert.True(t, val.DaysLeft > 0)

	_, err = svc.Validate(ctx, "ABCD-EFGH-JKMN", "device-2")
	assert.ErrorIs(t, err, license.ErrDeviceMismatch)
}

func TestLicenseServiceRecoverSendsCode(t *testing.T) {
	svc, st, sender := newLicenseServiceFixture(t)
	ctx := context.Background()
	seedServiceLicense(t, st, "ABCD-EFGH-JKMN", "buyer@example.com")

	require.NoError(t, svc.Recover(ctx, "Buyer@Example.com"))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "buyer@example.com", msg.To)
	assert.Contains(t, msg.HTMLBody, "ABCD-EFGH-JKMN")
}

func TestLicenseServiceRecoverNoMatchIsSilent(t *testing.T) {
	svc, _, sender := newLicenseServiceFixture(t)

	assert.NoError(t, svc.Recover(context.Background(), "nobody@example.com"))
	assert.Empty(t, sender.sent)
}

func TestLicenseServiceRecoverSurfacesSendError(t *testing.T) {
	svc, st, sender := newLicenseServiceFixture(t)
	seedServiceLicense(t, st, "ABCD-EFGH-JKMN", "buyer@example.com")
	sender.err = errors.New("smtp unreachable")

	err := svc.Recover(context.Background(), "buyer@example.com")
	assert.ErrorContains(t, err, "smtp unreachable")
}

func TestLicenseServiceRecoverOnlyOnce(t *testing.T) {
	svc, st, sender := newLicenseServiceFixture(t)
	ctx := context.Background()
	seedServiceLicense(t, st, "ABCD-EFGH-JKMN", "buyer@example.com")

	require.NoError(t, svc.Recover(ctx, "buyer@example.com"))
	assert.ErrorIs(t, svc.Recover(ctx, "buyer@example.com"), license.ErrRecoveryUsed)
	assert.Len(t, sender.sent, 1)
}
