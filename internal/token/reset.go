package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Reset consumption failure kinds. The HTTP boundary collapses all three
// into one generic message so callers cannot probe which case they hit.
var (
	ErrResetNotFound = errors.New("reset token not found")
	ErrResetExpired  = errors.New("reset token expired")
	ErrResetUsed     = errors.New("reset token already used")
)

// ResetToken is a persisted single-use credential-change token. Used rows
// are never deleted; they remain as an audit artifact.
type ResetToken struct {
	ID         int64
	IdentityID int64
	Value      string
	ExpiresAt  time.Time
	Used       bool
	CreatedAt  time.Time
}

// ResetStore persists reset tokens. RedeemResetToken must atomically flip
// used=false to true and install the new credential hash in one unit: under
// concurrent redemption of the same value exactly one caller sees true.
type ResetStore interface {
	CreateResetToken(ctx context.Context, t ResetToken) error
	GetResetToken(ctx context.Context, value string) (ResetToken, error)
	RedeemResetToken(ctx context.Context, value, newCredentialHash string) (bool, error)
}

// Resetter issues and consumes persisted reset tokens.
type Resetter struct {
	store ResetStore
	ttl   time.Duration
	now   func() time.Time
}

// NewResetter creates a resetter with the given token lifetime.
func NewResetter(store ResetStore, ttl time.Duration) *Resetter {
	return &Resetter{store: store, ttl: ttl, now: time.Now}
}

// Issue generates a high-entropy opaque value and persists a reset token for
// the identity. Outstanding tokens for the same identity are not revoked.
func (r *Resetter) Issue(ctx context.Context, identityID int64) (string, error) {
	value, err := NewResetValue()
	if err != nil {
		return "", err
	}
	t := ResetToken{
		IdentityID: identityID,
		Value:      value,
		ExpiresAt:  r.now().Add(r.ttl),
	}
	if err := r.store.CreateResetToken(ctx, t); err != nil {
		return "", fmt.Errorf("persist reset token: %w", err)
	}
	return value, nil
}

// Consume redeems a reset value, installing newCredentialHash on the owning
// identity. Exactly one of N concurrent calls for the same value succeeds;
// the rest fail ErrResetUsed.
func (r *Resetter) Consume(ctx context.Context, value, newCredentialHash string) error {
	t, err := r.store.GetResetToken(ctx, value)
	if err != nil {
		return err
	}
	if t.Used {
		return ErrResetUsed
	}
	if r.now().After(t.ExpiresAt) {
		return ErrResetExpired
	}
	ok, err := r.store.RedeemResetToken(ctx, value, newCredentialHash)
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race against a concurrent redeemer.
		return ErrResetUsed
	}
	return nil
}

// NewResetValue returns 32 bytes of crypto/rand entropy, URL-safe encoded.
func NewResetValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
