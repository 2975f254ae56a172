package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize lowercases, strips punctuation, and collapses whitespace runs,
// per spec §4.1 step 4. It is idempotent: Normalize(Normalize(t)) == Normalize(t).
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(b.String(), " "))
}

// ContentHash computes SHA-256(normalize(title) "\n" normalize(body)), the
// dedup key of spec §4.1 step 4.
func ContentHash(title, body string) string {
	sum := sha256.Sum256([]byte(Normalize(title) + "\n" + Normalize(body)))
	return hex.EncodeToString(sum[:])
}
