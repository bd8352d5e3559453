package auth

import (
	"errors"
	"strings"
)

// ErrAccessDenied means the identity is not permitted to edit.
var ErrAccessDenied = errors.New("access denied")

// Allowlist permits an email when it is listed explicitly or its domain is.
// An empty allowlist permits nobody.
type Allowlist struct {
	emails  map[string]struct{}
	domains map[string]struct{}
}

func NewAllowlist(emails, domains []string) Allowlist {
	list := Allowlist{
		emails:  make(map[string]struct{}, len(emails)),
		domains: make(map[string]struct{}, len(domains)),
	}
	for _, email := range emails {
		if email = NormalizeEmail(email); email != "" {
			list.emails[email] = struct{}{}
		}
	}
	for _, domain := range domains {
		domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@")
		if domain != "" {
			list.domains[domain] = struct{}{}
		}
	}
	return list
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a Allowlist) Permitted(email string) bool {
	email = NormalizeEmail(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if _, ok := a.emails[email]; ok {
		return true
	}
	_, ok := a.domains[email[at+1:]]
	return ok
}

// Check returns ErrAccessDenied unless email is permitted.
func (a Allowlist) Check(email string) error {
	if !a.Permitted(email) {
		return ErrAccessDenied
	}
	return nil
}
