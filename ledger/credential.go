package ledger

import "strings"

// DefaultCredentialTag is the brand tag embedded in derived login codes.
const DefaultCredentialTag = "TBGS"

// CredentialIssuer produces the default login code for a customer.
// It is a weak default, not a security control; swap the implementation
// without touching transaction logic.
type CredentialIssuer interface {
	Issue(name, phone string) string
}

// BrandCredentials derives
//
//	uppercase(first 2 characters of name) + Tag + last 4 characters of phone
type BrandCredentials struct {
	Tag string
}

func (b BrandCredentials) Issue(name, phone string) string {
	n := []rune(name)
	if len(n) > 2 {
		n = n[:2]
	}
	p := []rune(phone)
	if len(p) > 4 {
		p = p[len(p)-4:]
	}
	return strings.ToUpper(string(n)) + b.Tag + string(p)
}

// ResolveCredential picks the credential to store: a non-empty operator
// override wins, an existing credential is kept, otherwise one is derived.
func ResolveCredential(issuer CredentialIssuer, existing, override, name, phone string) string {
	if override != "" {
		return override
	}
	if existing != "" {
		return existing
	}
	return issuer.Issue(name, phone)
}
