// Package validate holds the small input checks shared by the issuance and
// admin handlers.
package validate

import (
	"errors"
	"strings"
)

// ErrInvalidEmail is returned for strings that cannot be an email address.
var ErrInvalidEmail = errors.New("validate: invalid email format")

// Tiers lists the credential tiers accepted by the system.
var Tiers = []string{"free", "standard", "premium"}

// NormalizeEmail lower-cases and trims an email address. Every store lookup
// and comparison uses the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the domain part of an already-normalized email, or
// ErrInvalidEmail when the string has no usable local/domain split.
func EmailDomain(email string) (string, error) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", ErrInvalidEmail
	}
	return email[at+1:], nil
}

// DomainAllowed reports whether the email's domain is in the allow-list.
func DomainAllowed(domain string, allowed []string) bool {
	for _, d := range allowed {
		if strings.EqualFold(domain, d) {
			return true
		}
	}
	return false
}

// ValidTier reports whether tier is one of the known tiers.
func ValidTier(tier string) bool {
	for _, t := range Tiers {
		if tier == t {
			return true
		}
	}
	return false
}
