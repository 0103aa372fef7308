package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/pkg/logger"
)

// RoleOperator is granted to the configured operator account.
const RoleOperator = "operator"

// ServiceConfig holds auth service configuration.
type ServiceConfig struct {
	Username     string
	PasswordHash string

	MaxLoginAttempts int
	LockDuration     time.Duration
}

// DefaultServiceConfig returns default lockout settings.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxLoginAttempts: 5,
		LockDuration:     15 * time.Minute,
	}
}

// Credentials is a login request.
type Credentials struct {
	Username string
	Password string
}

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Service authenticates the single configured operator account.
type Service struct {
	jwtService *JWTService
	config     ServiceConfig
	now        func() time.Time

	mu          sync.Mutex
	failed      int
	lockedUntil time.Time
}

// NewService creates a new auth service.
func NewService(jwtService *JWTService, config ServiceConfig) *Service {
	defaults := DefaultServiceConfig()
	if config.MaxLoginAttempts <= 0 {
		config.MaxLoginAttempts = defaults.MaxLoginAttempts
	}
	if config.LockDuration <= 0 {
		config.LockDuration = defaults.LockDuration
	}
	return &Service{jwtService: jwtService, config: config, now: time.Now}
}

// Login checks creds against the bcrypt hash and issues a token.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Token, error) {
	if s.config.PasswordHash == "" {
		return nil, apperror.NewUnauthorized("operator login is disabled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Before(s.lockedUntil) {
		return nil, apperror.NewUnauthorized("account is locked").
			WithDetail("locked_until", s.lockedUntil.UTC().Format(time.RFC3339))
	}

	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(s.config.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(s.config.PasswordHash), []byte(creds.Password))
	if !userOK || passErr != nil {
		s.failed++
		if s.failed >= s.config.MaxLoginAttempts {
			s.lockedUntil = now.Add(s.config.LockDuration)
			s.failed = 0
			logger.Warn(ctx, "operator account locked", "until", s.lockedUntil)
		}
		return nil, apperror.NewUnauthorized("invalid credentials")
	}
	s.failed = 0

	token, expiresAt, err := s.jwtService.GenerateAccessToken(s.config.Username, []string{RoleOperator})
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	logger.Info(ctx, "operator logged in", "username", s.config.Username)

	return &Token{AccessToken: token, ExpiresAt: expiresAt}, nil
}
