// Package auth authenticates operators of the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	appctx "ledgerbridge/internal/core/context"
	"ledgerbridge/internal/core/id"
)

// operatorAudience is the only audience ledgerbridge issues or accepts.
const operatorAudience = "ledgerbridge-operator"

// ErrTokenExpired is returned by ValidateToken for an expired but otherwise valid token.
var ErrTokenExpired = errors.New("operator token expired")

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	// Leeway absorbs clock skew between the API and POS terminals.
	Leeway time.Duration
}

// DefaultJWTConfig returns default JWT configuration.
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		Secret:         secret,
		Issuer:         "ledgerbridge",
		AccessTokenTTL: 30 * time.Minute,
		Leeway:         30 * time.Second,
	}
}

// Claims are the operator token claims.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// JWTService issues and checks HS256 operator tokens.
type JWTService struct {
	config JWTConfig
	parser *jwt.Parser
}

// NewJWTService creates a new JWT service.
func NewJWTService(config JWTConfig) *JWTService {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultJWTConfig("").AccessTokenTTL
	}
	return &JWTService{
		config: config,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(config.Issuer),
			jwt.WithAudience(operatorAudience),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(config.Leeway),
		),
	}
}

// GenerateAccessToken signs a token for username.
func (s *JWTService) GenerateAccessToken(username string, roles []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.AccessTokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   username,
			Audience:  jwt.ClaimStrings{operatorAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Roles: roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign operator token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken checks signature, issuer, audience and expiry and returns the operator.
func (s *JWTService) ValidateToken(tokenString string) (*appctx.OperatorContext, error) {
	var claims Claims
	_, err := s.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(s.config.Secret), nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("parse operator token: %w", err)
	case claims.Subject == "":
		return nil, errors.New("operator token has no subject")
	}

	return &appctx.OperatorContext{
		Username: claims.Subject,
		Roles:    claims.Roles,
	}, nil
}
