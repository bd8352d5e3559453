package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "avery@encorelm.com",
		Name: "Avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "avery@encorelm.com" || claims.Name != "Avery" || claims.JTI != "jti-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	issued, err := IssueToken(secret, Claims{
		Sub: "avery@encorelm.com",
		JTI: "jti-1",
		Exp: now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseTokenAt(secret, issued, now); err != nil {
		t.Fatalf("ParseTokenAt() before expiry error = %v", err)
	}
	if _, err := ParseTokenAt(secret, issued, now.Add(time.Minute)); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseTokenAt() at expiry error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, _ := IssueToken([]byte("secret"), Claims{Sub: "a@encorelm.com", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	for name, token := range map[string]string{
		"other secret": mustIssue(t, []byte("other"), Claims{Sub: "a@encorelm.com", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()}),
		"no signature": issued[:len(issued)-44],
		"garbage":      "not-a-token",
		"missing jti":  mustIssue(t, []byte("secret"), Claims{Sub: "a@encorelm.com", Exp: time.Now().Add(time.Hour).Unix()}),
	} {
		if _, err := ParseToken([]byte("secret"), token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: error = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestTokenFormat(t *testing.T) {
	token := mustIssue(t, []byte("secret"), Claims{Sub: "a@encorelm.com", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if !strings.HasPrefix(token, "v1.") || strings.Count(token, ".") != 2 {
		t.Fatalf("token = %q, want v1.<payload>.<signature>", token)
	}
	// The version is signed: swapping it breaks the signature.
	if _, err := ParseToken([]byte("secret"), "v2"+token[2:]); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("re-versioned token error = %v", err)
	}
}

func mustIssue(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") || HashToken("abc") == HashToken("abd") {
		t.Fatal("HashToken must be deterministic and distinguish inputs")
	}
	if len(HashToken("abc")) != 64 {
		t.Fatalf("HashToken length = %d", len(HashToken("abc")))
	}
}

func TestAllowlist(t *testing.T) {
	list := NewAllowlist([]string{" Guest@Example.com "}, []string{"@EncoreLM.com"})
	tests := []struct {
		email string
		want  bool
	}{
		{"avery@encorelm.com", true},
		{"AVERY@ENCORELM.COM", true},
		{"guest@example.com", true},
		{"other@example.com", false},
		{"avery@encorelm.com.evil", false},
		{"encorelm.com", false},
		{"@encorelm.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := list.Permitted(tt.email); got != tt.want {
			t.Errorf("Permitted(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
	if err := list.Check("other@example.com"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Check() error = %v, want ErrAccessDenied", err)
	}
	if NewAllowlist(nil, nil).Permitted("avery@encorelm.com") {
		t.Fatal("empty allowlist must permit nobody")
	}
}
