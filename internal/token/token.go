package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates the intended use of a signed token. It is carried
// inside the signed payload so a structurally valid token presented for the
// wrong use is rejected even when its signature checks out.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Verification failure kinds. Callers surface all of them uniformly as
// unauthorized; the distinction exists for diagnostics and tests.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrWrongKind        = errors.New("token kind mismatch")
)

// Claims is the signed JWT payload.
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Pair holds freshly issued access and refresh tokens.
type Pair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Service issues and verifies signed access and refresh tokens. Access and
// refresh tokens are signed with independent secrets. All operations are
// pure computations over their inputs and safe for concurrent use.
type Service struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewService creates a token service.
func NewService(issuer, accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		issuer:        issuer,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// IssueAccess issues a signed access token for subject, expiring at now+accessTTL.
func (s *Service) IssueAccess(subject string, now time.Time) (string, time.Time, error) {
	return s.issue(subject, now, KindAccess, s.accessSecret, s.accessTTL)
}

// IssueRefresh issues a signed refresh token for subject, expiring at now+refreshTTL.
func (s *Service) IssueRefresh(subject string, now time.Time) (string, time.Time, error) {
	return s.issue(subject, now, KindRefresh, s.refreshSecret, s.refreshTTL)
}

// IssuePair issues an access+refresh token pair for subject.
func (s *Service) IssuePair(subject string, now time.Time) (Pair, error) {
	access, accessExp, err := s.IssueAccess(subject, now)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := s.IssueRefresh(subject, now)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *Service) issue(subject string, now time.Time, kind Kind, secret []byte, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify validates tokenStr against the secret for the expected kind and
// returns its subject. The kind carried in the payload must match expected:
// a correctly signed token of the wrong kind fails ErrWrongKind.
func (s *Service) Verify(tokenStr string, expected Kind) (string, error) {
	secret := s.accessSecret
	if expected == KindRefresh {
		secret = s.refreshSecret
	}

	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", ErrSignatureInvalid
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpired
		default:
			return "", ErrMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrMalformed
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return "", ErrSignatureInvalid
	}
	if claims.Kind != expected {
		return "", ErrWrongKind
	}
	return claims.Subject, nil
}

// Rotate verifies a refresh token and issues a fresh access token for the
// same subject. The refresh token itself stays valid until its own expiry.
func (s *Service) Rotate(refreshToken string, now time.Time) (string, time.Time, error) {
	subject, err := s.Verify(refreshToken, KindRefresh)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.IssueAccess(subject, now)
}
