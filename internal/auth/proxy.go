package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// LoginProofHeader carries the shared secret of the sign-in proxy. The proxy
// completes the OAuth exchange and only then forwards the verified email.
const LoginProofHeader = "X-Agenda-Login-Secret"

var (
	ErrLoginUnverified = errors.New("login not verified by the sign-in proxy")
	ErrLoginDisabled   = errors.New("login is not configured")
)

// ProxyVerifier checks the proxy secret presented at login against a bcrypt
// hash, so the configuration never holds the secret itself.
type ProxyVerifier struct {
	hash []byte
}

func NewProxyVerifier(hash string) (*ProxyVerifier, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, ErrLoginDisabled
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("login secret hash: %w", err)
	}
	return &ProxyVerifier{hash: []byte(hash)}, nil
}

// Verify fails with ErrLoginUnverified unless secret matches. A nil verifier
// rejects every login with ErrLoginDisabled.
func (v *ProxyVerifier) Verify(secret string) error {
	if v == nil {
		return ErrLoginDisabled
	}
	if secret == "" {
		return ErrLoginUnverified
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(secret)); err != nil {
		return ErrLoginUnverified
	}
	return nil
}

// HashProxySecret produces the value for AGENDA_LOGIN_SECRET_HASH.
func HashProxySecret(secret string, cost int) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
