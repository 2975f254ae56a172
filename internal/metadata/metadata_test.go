package metadata

import (
	"strings"
	"testing"
)

func TestSlugifyHandlesNonASCII(t *testing.T) {
	got := Slugify("Café société: 2026 Évaluation!")
	if strings.ContainsAny(got, "éÉ!:") {
		t.Fatalf("expected diacritics/punctuation stripped, got %q", got)
	}
	if got != Slugify(got) {
		t.Fatalf("Slugify not idempotent on its own output: %q vs %q", got, Slugify(got))
	}
}

func TestSlugifyTruncatesAtWordBoundary(t *testing.T) {
	long := strings.Repeat("word ", 30)
	got := Slugify(long)
	if len(got) > maxSlugLength {
		t.Fatalf("slug exceeds max length: %d", len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Fatalf("slug should not end with a hyphen: %q", got)
	}
}

func TestSlugifyEmptyFallsBackToUntitled(t *testing.T) {
	if got := Slugify("!!!"); got != "untitled" {
		t.Fatalf("expected untitled fallback, got %q", got)
	}
}

func TestFilenameAndURLAgree(t *testing.T) {
	slug := Slugify("Breaking Go News")
	filename := Filename("2026-07-31", slug)
	url := ArticleURL(filename)
	if url != "/articles/"+filename {
		t.Fatalf("url %q does not match filename %q", url, filename)
	}
	if Stem(filename) != "2026-07-31-"+slug {
		t.Fatalf("unexpected stem for filename %q: %q", filename, Stem(filename))
	}
}

func TestFilenameMatchesGrammar(t *testing.T) {
	filename := Filename("2025-10-20", Slugify("AI Breakthrough"))
	if filename != "2025-10-20-ai-breakthrough.html" {
		t.Fatalf("unexpected filename: %q", filename)
	}
}

func TestMetaDescriptionTruncatesAtWordBoundary(t *testing.T) {
	body := strings.Repeat("sentence ", 40) + "\n\nsecond paragraph"
	got := MetaDescription(body)
	if len(got) > maxMetaDescriptionLength+1 { // allow for the ellipsis rune
		t.Fatalf("meta description too long: %d chars", len(got))
	}
	if strings.Contains(got, "second paragraph") {
		t.Fatalf("expected only first paragraph, got %q", got)
	}
}
