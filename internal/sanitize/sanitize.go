// Package sanitize provides shared identifier sanitization for run
// slugs and artifact file names.
//
// Components embedded in file names (task slugs, phase stages, topics)
// must match: ^[a-z0-9_]{1,64}$. This package ensures all identifiers
// conform to that requirement.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length for a single name
	// component such as a task slug.
	MaxIdentifierLength = 64

	// MaxStemLength is the maximum length for a composed file stem
	// before the extension is added.
	MaxStemLength = 120

	// HashSuffixLength is the length of the hash suffix added to
	// truncated identifiers. Format: _<8-char-hash> = 9 characters.
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "task"
)

// Identifier sanitizes a string for use as a file name component.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"Fix login-page bug!" -> "fix_login_page_bug"
//	"auth/oauth flow"     -> "auth_oauth_flow"
//	"" or "!!!"           -> "task"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized, MaxIdentifierLength)
	}

	return sanitized
}

// truncateWithHash truncates a string to fit within max, appending a
// hash suffix to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
// Example: "very_long_identifier..." -> "very_long_iden_a1b2c3d4"
func truncateWithHash(s string, max int) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	truncated := s[:max-HashSuffixLength]
	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}

// FileStem joins pre-sanitized components into a file stem, with a
// final length check on the combined name.
//
// Example: FileStem("implementation", "fix_login_bug", "20250115T103000Z")
//
//	-> "implementation_fix_login_bug_20250115T103000Z"
//
// Empty components are skipped. The result is guaranteed to fit in a
// file name once an extension is added.
func FileStem(components ...string) string {
	parts := make([]string, 0, len(components))
	for _, c := range components {
		if c != "" {
			parts = append(parts, c)
		}
	}

	stem := strings.Join(parts, "_")
	if stem == "" {
		return DefaultIdentifier
	}

	if len(stem) > MaxStemLength {
		stem = truncateWithHash(stem, MaxStemLength)
	}

	return stem
}
