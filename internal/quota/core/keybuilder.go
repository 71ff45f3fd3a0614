// Package core provides key construction.
package core

import (
	"strings"
	"time"
)

const defaultKeyPrefix = "apiquota"

// keyEscaper keeps caller-supplied parts from introducing separators, so
// identifier "x:burst" cannot alias the burst key of identifier "x".
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// KeyBuilder builds store keys for window sets and usage hashes.
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder constructs a KeyBuilder. An empty prefix uses the default.
func NewKeyBuilder(prefix string) *KeyBuilder {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &KeyBuilder{prefix: prefix}
}

// WindowKey builds the sorted set key for a window scope.
func (kb *KeyBuilder) WindowKey(key WindowKey) string {
	var b strings.Builder
	b.WriteString(kb.keyPrefix())
	b.WriteByte(':')
	b.WriteString(keyEscaper.Replace(key.Dependency))
	b.WriteByte(':')
	b.WriteString(keyEscaper.Replace(normalizeIdentifier(key.Identifier)))
	if key.Kind == WindowBurst {
		b.WriteString(":burst")
	}
	return b.String()
}

// UsageKey builds the daily usage hash key.
func (kb *KeyBuilder) UsageKey(dependency, identifier string, day time.Time) string {
	return kb.keyPrefix() + ":stats:" + keyEscaper.Replace(dependency) + ":" +
		keyEscaper.Replace(normalizeIdentifier(identifier)) + ":" + FormatDate(day)
}

func (kb *KeyBuilder) keyPrefix() string {
	if kb == nil || kb.prefix == "" {
		return defaultKeyPrefix
	}
	return kb.prefix
}

// FormatDate renders the UTC calendar date used by usage keys.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func normalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return DefaultIdentifier
	}
	return identifier
}
