package identity

import (
	"testing"

	"github.com/google/uuid"
)

func TestNormalizeProfileURLCollapsesEquivalentSpellings(t *testing.T) {
	variants := []string{
		"https://linkedin.com/in/jane",
		"https://linkedin.com/in/jane/",
		"https://linkedin.com/in/jane?utm_source=search",
		"https://linkedin.com/in/jane/?utm_source=search&ref=x",
		"https://linkedin.com/in/jane#about",
		"  https://linkedin.com/in/jane  ",
		"https://LinkedIn.com/in/jane",
		"HTTPS://LINKEDIN.COM/in/jane",
	}
	want := "https://linkedin.com/in/jane"
	for _, variant := range variants {
		if got := NormalizeProfileURL(variant); got != want {
			t.Fatalf("NormalizeProfileURL(%q) = %q, want %q", variant, got, want)
		}
	}
}

func TestNormalizeProfileURLKeepsDistinctReferencesApart(t *testing.T) {
	pairs := [][2]string{
		{"https://linkedin.com/in/jane", "https://linkedin.com/in/janet"},
		{"https://linkedin.com/in/jane", "http://linkedin.com/in/jane"},
		{"https://linkedin.com/in/jane", "https://www.linkedin.com/in/jane"},
	}
	for _, pair := range pairs {
		if NormalizeProfileURL(pair[0]) == NormalizeProfileURL(pair[1]) {
			t.Fatalf("expected %q and %q to stay distinct", pair[0], pair[1])
		}
	}
}

func TestNormalizeProfileURLFallsBackToTrimOnUnparseableInput(t *testing.T) {
	cases := map[string]string{
		"not a url":        "not a url",
		"  plain-handle  ": "plain-handle",
		"linkedin.com/in/jane": "linkedin.com/in/jane", // no scheme
		"://broken":            "://broken",
		"":                     "",
		"   ":                  "",
	}
	for input, want := range cases {
		if got := NormalizeProfileURL(input); got != want {
			t.Fatalf("NormalizeProfileURL(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDeriveLeadIDIsDeterministic(t *testing.T) {
	first := DeriveLeadID("https://linkedin.com/in/jane")
	second := DeriveLeadID("https://linkedin.com/in/jane")
	if first != second {
		t.Fatalf("expected stable ids, got %q and %q", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected a 64-char hex digest, got %q", first)
	}
	if DeriveLeadID("https://linkedin.com/in/janet") == first {
		t.Fatalf("distinct references must not collide")
	}
}

func TestDeriveLeadIDMatchesAcrossNormalizedVariants(t *testing.T) {
	first := DeriveLeadID(NormalizeProfileURL("https://linkedin.com/in/jane/"))
	second := DeriveLeadID(NormalizeProfileURL("https://linkedin.com/in/jane?src=x"))
	if first != second {
		t.Fatalf("equivalent spellings must share an id, got %q and %q", first, second)
	}
}

func TestUUIDProviderReturnsOrderedUniqueIDs(t *testing.T) {
	provider := NewUUIDProvider()

	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct ids, got %q twice", first)
	}
	for _, id := range []string{first, second} {
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("expected a valid uuid, got %q: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("expected uuid v7, got version %d", parsed.Version())
		}
	}
}
