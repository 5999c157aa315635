// Package persona resolves the display names used for placeholder
// substitution in outbound prompts and tool output.
package persona

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/wispchat/wisp/pkg/storage"
)

// KV keys for name resolution.
const (
	userNameKey = "user_name"
	charNameKey = "character_name"
)

// Default names used when nothing is stored.
const (
	DefaultUserName = "User"
	DefaultCharName = "Assistant"
)

// Names carries the resolved substitution values for one run.
type Names struct {
	User string
	Char string
}

// Resolver loads persona names from the KV store.
type Resolver struct {
	kv storage.KV
}

// NewResolver creates a Resolver backed by kv.
func NewResolver(kv storage.KV) *Resolver {
	return &Resolver{kv: kv}
}

// Resolve returns the stored names, falling back to defaults for
// anything missing.
func (r *Resolver) Resolve(ctx context.Context) Names {
	return Names{
		User: storage.GetString(ctx, r.kv, userNameKey, DefaultUserName),
		Char: storage.GetString(ctx, r.kv, charNameKey, DefaultCharName),
	}
}

// SetUserName stores the user's display name.
func (r *Resolver) SetUserName(ctx context.Context, name string) error {
	return r.kv.Set(ctx, userNameKey, name)
}

// SetCharName stores the character's display name.
func (r *Resolver) SetCharName(ctx context.Context, name string) error {
	return r.kv.Set(ctx, charNameKey, name)
}

// Substitute replaces {{user}}, {{char}}, [[user]] and [[char]] in text
// with the resolved names. Placeholders are matched case-insensitively.
// Callers pass copies; stored history is never rewritten.
func (n Names) Substitute(text string) string {
	if text == "" {
		return text
	}
	replacements := []struct {
		placeholder string
		value       string
	}{
		{"{{user}}", n.User},
		{"[[user]]", n.User},
		{"{{char}}", n.Char},
		{"[[char]]", n.Char},
	}
	for _, r := range replacements {
		text = replaceFold(text, r.placeholder, r.value)
	}
	return text
}

// replaceFold replaces every case-insensitive occurrence of old in s.
// old is pure ASCII, so a matching window in s is exactly len(old)
// bytes; offsets are computed on s itself, never on a folded copy whose
// byte length may differ (ToLower changes the length of some runes).
func replaceFold(s, old, new string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if i+len(old) <= len(s) && strings.EqualFold(s[i:i+len(old)], old) {
			b.WriteString(new)
			i += len(old)
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}
