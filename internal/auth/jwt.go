package auth

import (
	"fmt"
	"time"

	"go-dashboard/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the session token payload. The account address is the only
// identity the dashboard knows.
type Claims struct {
	AccountAddress string `json:"account_address"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates session tokens.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTManager builds the manager from config.
func NewJWTManager(cfg config.AuthConfig) *JWTManager {
	ttl := 24 * time.Hour
	if cfg.TokenTTL > 0 {
		ttl = time.Duration(cfg.TokenTTL) * time.Hour
	}
	return &JWTManager{secret: []byte(cfg.JWTSecret), ttl: ttl}
}

// Generate issues a session token for the account.
func (m *JWTManager) Generate(accountAddress string) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountAddress: accountAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "go-dashboard",
			Subject:   accountAddress,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a session token.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
