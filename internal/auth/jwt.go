package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the role claim.
const (
	RoleKiosk = "kiosk"
	RoleStaff = "staff"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrIssuerMismatch  = errors.New("issuer mismatch")
	ErrUnexpectedAlg   = errors.New("unexpected signing method")
	ErrUnsupportedRole = errors.New("unsupported role")
)

// Claims represents JWT payload. Subject is the kiosk device id or the staff user id.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs a token for subject with the given role. Production tokens come from the
// identity service; tests mint their own with this.
func Issue(subject, role, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	if role != RoleKiosk && role != RoleStaff {
		return "", time.Time{}, ErrUnsupportedRole
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrUnexpectedAlg
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, ErrIssuerMismatch
	}
	return *claims, nil
}
