// Package auth guards the HTTP API with a single configured account and
// HS256 bearer tokens.
package auth

import (
	"errors"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds the account and token settings
type Config struct {
	Enabled   bool
	Username  string
	Password  string // Plaintext or a bcrypt hash
	JWTSecret string
	TokenTTL  time.Duration
}

// Authenticator handles user authentication
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates an authenticator. An enabled authenticator
// without a password rejects every login.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if cfg.Enabled && cfg.Password != "" {
		if isBcryptHash(cfg.Password) {
			passwordHash = []byte(cfg.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, err
			}
			passwordHash = hash
		}
	}
	if cfg.Enabled && passwordHash == nil {
		log.Printf("[Auth] Authentication enabled without a password; logins will fail")
	}

	jwtManager, err := NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		enabled:      cfg.Enabled,
		username:     username,
		passwordHash: passwordHash,
		jwtManager:   jwtManager,
	}, nil
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a token and its expiry
func (a *Authenticator) Authenticate(username, password string) (string, time.Time, error) {
	if !a.enabled {
		return "", time.Time{}, ErrAuthDisabled
	}

	if username != a.username || a.passwordHash == nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	return a.jwtManager.GenerateToken(username)
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// JWTManager returns the JWT manager
func (a *Authenticator) JWTManager() *JWTManager {
	return a.jwtManager
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
