// Package auth validates bearer tokens for the wallet facade. Session
// issuance lives with the identity provider; this side only verifies.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleAdmin marks tokens allowed to call the admin surface.
	RoleAdmin = "admin"

	bearerPrefix = "Bearer "
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims carried by wallet session tokens. Subject is the account id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the token subject.
func (claims *Claims) AccountID() string {
	return claims.Subject
}

// IsAdmin reports whether the token carries the admin role.
func (claims *Claims) IsAdmin() bool {
	return claims.Role == RoleAdmin
}

// Validator verifies HMAC-signed session tokens.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator wires a Validator.
func NewValidator(secret string, issuer string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Validator{secret: []byte(secret), issuer: issuer}, nil
}

// Parse validates the raw compact token and returns its claims.
func (validator *Validator) Parse(rawToken string) (*Claims, error) {
	claims := &Claims{}
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if validator.issuer != "" {
		options = append(options, jwt.WithIssuer(validator.issuer))
	}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		return validator.secret, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAuthorizationHeader extracts and validates the bearer token from an
// Authorization header value.
func (validator *Validator) ParseAuthorizationHeader(header string) (*Claims, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, ErrMissingToken
	}
	return validator.Parse(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
}

// IssueToken signs a session token. Used by tests and the demo tooling; a
// production deployment issues tokens from its identity service.
func IssueToken(secret string, issuer string, accountID string, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
