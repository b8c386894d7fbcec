package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService("presence-core", "access-secret", "refresh-secret", 30*time.Minute, 7*24*time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestService()

	signed, exp, err := svc.IssueAccess("user-1", time.Now())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), exp, time.Second)

	subject, err := svc.Verify(signed, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	svc := newTestService()

	signed, _, err := svc.IssueRefresh("user-2", time.Now())
	require.NoError(t, err)

	subject, err := svc.Verify(signed, KindRefresh)
	require.NoError(t, err)
	assert.Equal(t, "user-2", subject)
}

func TestVerifyExpired(t *testing.T) {
	svc := newTestService()

	signed, _, err := svc.IssueAccess("user-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = svc.Verify(signed, KindAccess)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsCrossKind(t *testing.T) {
	svc := newTestService()

	access, _, err := svc.IssueAccess("user-1", time.Now())
	require.NoError(t, err)
	refresh, _, err := svc.IssueRefresh("user-1", time.Now())
	require.NoError(t, err)

	// With independent secrets the cross-presented token fails the
	// signature check before the kind check is ever reached.
	_, err = svc.Verify(access, KindRefresh)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	_, err = svc.Verify(refresh, KindAccess)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRejectsWrongKindUnderSharedSecret(t *testing.T) {
	// A deployment that reuses one secret for both kinds must still reject
	// cross-use: the kind discriminator lives inside the signed payload.
	svc := NewService("presence-core", "shared", "shared", time.Minute, time.Hour)

	refresh, _, err := svc.IssueRefresh("user-1", time.Now())
	require.NoError(t, err)

	_, err = svc.Verify(refresh, KindAccess)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestVerifyCrossKindIndependentOfExpiry(t *testing.T) {
	svc := NewService("presence-core", "shared", "shared", time.Minute, time.Hour)

	// Both expired and fresh refresh tokens fail as access tokens.
	fresh, _, err := svc.IssueRefresh("user-1", time.Now())
	require.NoError(t, err)
	_, err = svc.Verify(fresh, KindAccess)
	assert.Error(t, err)

	expired, _, err := svc.IssueRefresh("user-1", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = svc.Verify(expired, KindAccess)
	assert.Error(t, err)
}

func TestVerifyMalformed(t *testing.T) {
	svc := newTestService()

	_, err := svc.Verify("not.a.token", KindAccess)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = svc.Verify("", KindAccess)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyTamperedSignature(t *testing.T) {
	svc := newTestService()
	other := NewService("presence-core", "other-access", "other-refresh", time.Minute, time.Hour)

	signed, _, err := other.IssueAccess("user-1", time.Now())
	require.NoError(t, err)

	_, err = svc.Verify(signed, KindAccess)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestRotate(t *testing.T) {
	svc := newTestService()

	refresh, _, err := svc.IssueRefresh("user-9", time.Now())
	require.NoError(t, err)

	access, _, err := svc.Rotate(refresh, time.Now())
	require.NoError(t, err)

	subject, err := svc.Verify(access, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-9", subject)

	// The consumed refresh token stays valid until natural expiry.
	_, err = svc.Verify(refresh, KindRefresh)
	assert.NoError(t, err)
}

func TestRotateRejectsAccessToken(t *testing.T) {
	svc := newTestService()

	access, _, err := svc.IssueAccess("user-9", time.Now())
	require.NoError(t, err)

	_, _, err = svc.Rotate(access, time.Now())
	assert.Error(t, err)
}
