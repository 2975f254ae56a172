// Package metadata derives the deterministic slug/filename/url contract of
// spec §4.2: every downstream stage must reach the same answer given the
// same (title, date) pair, so this is pure, stateless, and the single
// place that logic lives — matching the teacher's validateSlug/isValidSlug
// allowed-charset style in tools/si/util.go, generalized from validation to
// derivation.
package metadata

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 80

var nonSlugChar = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases, strips diacritics from letters that decompose to an
// ASCII base (é → e), replaces runs of non-alphanumeric characters with a
// single hyphen, and truncates to maxSlugLength without splitting a word.
// Other non-ASCII characters (CJK, ß, ø, ...) are not transliterated and are
// dropped; a title with nothing left yields "untitled".
func Slugify(title string) string {
	ascii := toASCII(title)
	lowered := strings.ToLower(ascii)
	collapsed := nonSlugChar.ReplaceAllString(lowered, "-")
	slug := strings.Trim(collapsed, "-")
	if slug == "" {
		slug = "untitled"
	}
	return truncateAtWordBoundary(slug, maxSlugLength)
}

// toASCII strips diacritics via Unicode NFKD decomposition, so "café" becomes
// "cafe" instead of being dropped entirely by nonSlugChar.
func toASCII(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func truncateAtWordBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndex(cut, "-"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.Trim(cut, "-")
}

// Filename derives the canonical "date-slug.html" filename per the §6
// grammar (`date "-" slug "." ext`, date = YYYY-MM-DD). date must already be
// in that form — callers pass processed_at of the *first successful*
// attempt so re-processing never changes the name (spec §4.2 idempotence:
// "date is from processed_at of the first successful attempt, persisted
// alongside the topic state to prevent drift across retries after
// midnight UTC"). This is the canonical name threaded through every
// downstream stage; each stage derives its own blob extension from the
// same date-slug stem rather than recomputing it.
func Filename(date, slug string) string {
	return fmt.Sprintf("%s-%s.html", date, slug)
}

// ArticleURL derives the public URL path from the canonical filename,
// per the §6 grammar's "URL form: /articles/{date-slug}.html" — the
// filename and URL derive from the same stem and never drift.
func ArticleURL(filename string) string {
	return "/articles/" + filename
}

// Stem strips the extension from a canonical filename, yielding the
// date-slug string other stages use to name their own blobs (e.g. the
// markdown generator's {stem}.md, enforced equal to the filename's stem).
func Stem(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx > 0 {
		return filename[:idx]
	}
	return filename
}

const maxSEOTitleLength = 60

// SEOTitle truncates a title to a search-result-friendly length without
// cutting mid-word, falling back to the full title when it already fits.
func SEOTitle(title string) string {
	trimmed := strings.TrimSpace(title)
	if len(trimmed) <= maxSEOTitleLength {
		return trimmed
	}
	cut := trimmed[:maxSEOTitleLength]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}

const maxMetaDescriptionLength = 160

// MetaDescription derives a search-result snippet from the article body:
// the first paragraph, collapsed to single-line whitespace, truncated at a
// word boundary.
func MetaDescription(body string) string {
	firstParagraph := body
	if idx := strings.Index(body, "\n\n"); idx >= 0 {
		firstParagraph = body[:idx]
	}
	collapsed := strings.Join(strings.Fields(firstParagraph), " ")
	if len(collapsed) <= maxMetaDescriptionLength {
		return collapsed
	}
	cut := collapsed[:maxMetaDescriptionLength]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}
