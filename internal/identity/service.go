package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"presence/internal/authz"
	"presence/internal/token"
)

// ErrInvalidCredentials is the single opaque failure for login: wrong email,
// wrong password, and mismatched role are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Store is the persistence surface the service needs.
type Store interface {
	CreateIdentity(ctx context.Context, ident Identity) (Identity, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetByPublicID(ctx context.Context, publicID string) (Identity, error)
	UpdateCredentialHash(ctx context.Context, id int64, hash string) error
}

// Service handles registration, login, token refresh, and password resets.
type Service struct {
	store  Store
	tokens *token.Service
	resets *token.Resetter
	now    func() time.Time
}

// NewService creates an identity service.
func NewService(store Store, tokens *token.Service, resets *token.Resetter) *Service {
	return &Service{store: store, tokens: tokens, resets: resets, now: time.Now}
}

// Register creates a new identity and issues its first token pair. Only
// student and teacher self-registration is allowed; admin accounts are
// provisioned out of band.
func (s *Service) Register(ctx context.Context, name, email, password string, role authz.Role) (Identity, token.Pair, error) {
	if role != authz.RoleStudent && role != authz.RoleTeacher {
		return Identity{}, token.Pair{}, fmt.Errorf("role %q not allowed at registration", role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Identity{}, token.Pair{}, err
	}
	ident, err := s.store.CreateIdentity(ctx, Identity{
		PublicID:       uuid.NewString(),
		Name:           name,
		Email:          email,
		CredentialHash: hash,
		Role:           role,
	})
	if err != nil {
		return Identity{}, token.Pair{}, err
	}
	pair, err := s.tokens.IssuePair(ident.PublicID, s.now())
	if err != nil {
		return Identity{}, token.Pair{}, err
	}
	return ident, pair, nil
}

// Login verifies email, password, and role, and issues a token pair. A
// correct password under the wrong role still fails.
func (s *Service) Login(ctx context.Context, email, password string, role authz.Role) (Identity, token.Pair, error) {
	ident, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, token.Pair{}, ErrInvalidCredentials
		}
		return Identity{}, token.Pair{}, err
	}
	if !ident.Active || ident.Role != role || !CheckPassword(ident.CredentialHash, password) {
		return Identity{}, token.Pair{}, ErrInvalidCredentials
	}
	pair, err := s.tokens.IssuePair(ident.PublicID, s.now())
	if err != nil {
		return Identity{}, token.Pair{}, err
	}
	return ident, pair, nil
}

// Refresh mints a new access token from a valid refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	access, exp, err := s.tokens.Rotate(refreshToken, s.now())
	if err != nil {
		return "", time.Time{}, err
	}
	return access, exp, nil
}

// RequestPasswordReset issues a reset token for the identity registered
// under email. An unknown email returns an empty value and no error, so the
// boundary response never discloses account existence. The returned value is
// handed to the external delivery collaborator, never to the requester.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	ident, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return s.resets.Issue(ctx, ident.ID)
}

// ConfirmPasswordReset consumes a reset value and installs the new password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, value, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.resets.Consume(ctx, value, hash)
}

// ChangePassword installs a new password for an authenticated identity after
// verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, ident Identity, current, next string) error {
	if !CheckPassword(ident.CredentialHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.UpdateCredentialHash(ctx, ident.ID, hash)
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
