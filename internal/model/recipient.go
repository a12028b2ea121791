package model

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// EmailField is the only mandatory recipient field
const EmailField = "email"

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Recipient errors
var (
	ErrMissingEmail = errors.New("recipient has no email")
	ErrInvalidEmail = errors.New("recipient email is not a valid address")
)

// Recipient is one addressee. Besides email every field is optional and
// free-form; non-empty fields become personalization context.
type Recipient map[string]string

// ValidEmail reports whether s has the local@domain.tld shape
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// NormalizeEmail returns the identity key for an address
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Email returns the trimmed email field
func (r Recipient) Email() string {
	return strings.TrimSpace(r[EmailField])
}

// Name returns the trimmed name field, possibly empty
func (r Recipient) Name() string {
	return strings.TrimSpace(r["name"])
}

// Key is the identity key used for deduplication and log lookups
func (r Recipient) Key() string {
	return NormalizeEmail(r[EmailField])
}

// Validate checks the mandatory email field
func (r Recipient) Validate() error {
	email := r.Email()
	if email == "" {
		return ErrMissingEmail
	}
	if !ValidEmail(email) {
		return ErrInvalidEmail
	}
	return nil
}

// Context returns the personalization fields: every non-empty field except
// email, keyed by name.
func (r Recipient) Context() map[string]string {
	ctx := make(map[string]string, len(r))
	for k, v := range r {
		if k == EmailField {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		ctx[k] = v
	}
	return ctx
}

// ContextKeys returns the personalization field names in sorted order
func (r Recipient) ContextKeys() []string {
	ctx := r.Context()
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy of the recipient
func (r Recipient) Clone() Recipient {
	out := make(Recipient, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CloneAll deep-copies a recipient list
func CloneAll(list []Recipient) []Recipient {
	out := make([]Recipient, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}
