package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes carried by API tokens.
const (
	// ScopeRead allows listing servers, reading status, logs and the console.
	ScopeRead = "servers:read"
	// ScopeControl allows start, stop and console commands.
	ScopeControl = "servers:control"
)

// DefaultScopes is what a token gets when none are requested.
var DefaultScopes = []string{ScopeRead, ScopeControl}

var (
	ErrInvalidToken = errors.New("invalid token")

	ErrUnknownScope = errors.New("unknown scope")
)

// Claims represents JWT claims
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenManager issues and validates HMAC-signed API tokens.
type TokenManager struct {
	secretKey []byte
	issuer    string
	duration  time.Duration
	now       func() time.Time
}

// NewTokenManager creates a token manager. A non-positive duration issues
// tokens valid for 24 hours.
func NewTokenManager(secretKey, issuer string, duration time.Duration) *TokenManager {
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &TokenManager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		duration:  duration,
		now:       time.Now,
	}
}

// ParseScopes splits a comma separated scope list and rejects unknown names.
func ParseScopes(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string{}, DefaultScopes...), nil
	}
	var scopes []string
	for _, part := range strings.Split(raw, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		if scope != ScopeRead && scope != ScopeControl {
			return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
		}
		if !slices.Contains(scopes, scope) {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

// Issue signs a token for subject with the given scopes.
func (m *TokenManager) Issue(subject string, scopes []string) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	now := m.now()
	expiresAt := now.Add(m.duration)
	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its claims.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
