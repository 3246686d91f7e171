package auth

import (
	"errors"
	"fmt"
	"time"

	"soltybet/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSecret = errors.New("JWT secret not configured")

// Claims identify the wallet behind a session
type Claims struct {
	UserID        uint   `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	jwt.RegisteredClaims
}

// Tokens issues and checks HS256 session tokens for logged-in wallets
type Tokens struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokens builds the token issuer from the app settings
func NewTokens(cfg config.AppConfig) (*Tokens, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	expiry := cfg.JWTExpiry
	if expiry <= 0 {
		expiry = config.DefaultJWTExpiry
	}
	return &Tokens{secret: []byte(cfg.JWTSecret), expiry: expiry, now: time.Now}, nil
}

// Issue signs a token for a user that expires after the configured lifetime
func (t *Tokens) Issue(userID uint, walletAddress string) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:        userID,
		WalletAddress: walletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   walletAddress,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of a token and returns its claims
func (t *Tokens) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.UserID == 0 {
		return nil, errors.New("token carries no user")
	}
	return claims, nil
}
