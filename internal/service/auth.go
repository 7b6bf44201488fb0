package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/doutorizze/discount-tokens/internal/errs"
)

// DefaultAccessTTL is used when the issuer is built with a non-positive TTL.
const DefaultAccessTTL = 15 * time.Minute

const leeway = 30 * time.Second

// AuthService signs and verifies HS256 access tokens whose subject is the user id.
type AuthService interface {
	// IssueAccessToken signs a token for subject valid for the configured TTL.
	IssueAccessToken(subject string) (token string, expiresAt time.Time, err error)
	// Verify checks signature, algorithm and time claims and returns the subject.
	Verify(token string) (subject string, err error)
}

type AuthServiceImpl struct {
	signKey   []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewAuthService constructs AuthService with a signing key and access TTL.
func NewAuthService(signKey []byte, accessTTL time.Duration) *AuthServiceImpl {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &AuthServiceImpl{signKey: signKey, accessTTL: accessTTL, now: time.Now}
}

// IssueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) IssueAccessToken(subject string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", errs.ErrValidation)
	}
	if len(s.signKey) == 0 {
		return "", time.Time{}, errors.New("empty signing key")
	}
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	return signed, exp, err
}

// Verify parses the token, rejecting anything but HS256 and tolerating 30s of clock skew.
func (s *AuthServiceImpl) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(leeway), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: empty subject", errs.ErrUnauthorized)
	}
	return claims.Subject, nil
}
