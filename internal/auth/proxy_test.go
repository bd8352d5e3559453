package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestProxyVerifier(t *testing.T) {
	hash, err := HashProxySecret("proxy-secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashProxySecret() error = %v", err)
	}
	verifier, err := NewProxyVerifier(hash)
	if err != nil {
		t.Fatalf("NewProxyVerifier() error = %v", err)
	}

	if err := verifier.Verify("proxy-secret"); err != nil {
		t.Fatalf("Verify(correct) error = %v", err)
	}
	for _, secret := range []string{"", "proxy-secret ", "other"} {
		if err := verifier.Verify(secret); !errors.Is(err, ErrLoginUnverified) {
			t.Fatalf("Verify(%q) error = %v, want ErrLoginUnverified", secret, err)
		}
	}
}

func TestNewProxyVerifierRejectsMissingOrMalformedHash(t *testing.T) {
	if _, err := NewProxyVerifier("  "); !errors.Is(err, ErrLoginDisabled) {
		t.Fatalf("empty hash error = %v, want ErrLoginDisabled", err)
	}
	if _, err := NewProxyVerifier("plain-text-secret"); err == nil {
		t.Fatal("expected error for a secret that is not a bcrypt hash")
	}

	var disabled *ProxyVerifier
	if err := disabled.Verify("anything"); !errors.Is(err, ErrLoginDisabled) {
		t.Fatalf("nil verifier error = %v, want ErrLoginDisabled", err)
	}
}

func TestHashProxySecretRejectsEmpty(t *testing.T) {
	if _, err := HashProxySecret(" ", bcrypt.MinCost); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
