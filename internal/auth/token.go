package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/civicdesk/grievance-service/internal/domain"
)

// TokenManager validates bearer tokens issued by the identity provider.
// GenerateToken mints tokens with the same shape for tooling and tests.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// Claims describes JWT payload. The user id travels in the registered "sub" claim.
type Claims struct {
	Role       domain.Role `json:"role"`
	Department string      `json:"department,omitempty"`
	Name       string      `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts validated claims into the caller identity.
func (c *Claims) Principal() domain.Principal {
	return domain.Principal{
		UserID:     c.Subject,
		Role:       c.Role,
		Department: c.Department,
		Name:       c.Name,
	}
}

// GenerateToken builds and signs a JWT for the principal.
func (tm *TokenManager) GenerateToken(principal domain.Principal) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		Role:       principal.Role,
		Department: principal.Department,
		Name:       principal.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	if !claims.Role.Valid() {
		return nil, errors.New("token carries an unknown role")
	}
	return claims, nil
}
