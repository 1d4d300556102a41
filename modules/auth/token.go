// Package auth issues and checks operator tokens for the debug server.
package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/Deepreo/jobsys/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// ScopeCancel allows canceling jobs through the debug server.
	ScopeCancel = "jobs:cancel"
	// ScopeRead allows reading job listings and stats.
	ScopeRead = "jobs:read"

	DefaultIssuer   = "jobsys"
	DefaultTokenTTL = 15 * time.Minute
	minSecretLength = 32
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingScope = errors.New("token lacks required scope")
)

type Config struct {
	Enabled   bool          `mapstructure:"enabled" json:"enabled"`
	SecretKey string        `mapstructure:"secret_key" json:"-"`
	Issuer    string        `mapstructure:"issuer" json:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.SecretKey) < minSecretLength {
		return errors.ValidationError(fmt.Errorf("auth secret key must be at least %d characters", minSecretLength))
	}
	if c.TokenTTL < 0 {
		return errors.ValidationError(fmt.Errorf("auth token ttl must not be negative, got %s", c.TokenTTL))
	}
	return nil
}

// Claims carried by an operator token.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenProvider signs and verifies HS256 operator tokens.
type TokenProvider struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewTokenProvider(cfg Config) (*TokenProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.SecretKey) < minSecretLength {
		return nil, errors.ValidationError(fmt.Errorf("auth secret key must be at least %d characters", minSecretLength))
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &TokenProvider{
		secretKey: []byte(cfg.SecretKey),
		issuer:    cfg.Issuer,
		ttl:       cfg.TokenTTL,
	}, nil
}

// Generate issues a token for subject with the given scopes.
func (p *TokenProvider) Generate(subject string, scopes ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    p.issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secretKey)
	if err != nil {
		return "", errors.InfraError(err)
	}
	return signed, nil
}

// Validate parses tokenString and checks its signature, expiry and issuer.
func (p *TokenProvider) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return p.secretKey, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.ValidationError(fmt.Errorf("%w: %v", ErrInvalidToken, err)).WithCode("AUTH_INVALID_TOKEN")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.ValidationError(ErrInvalidToken).WithCode("AUTH_INVALID_TOKEN")
	}
	return claims, nil
}
