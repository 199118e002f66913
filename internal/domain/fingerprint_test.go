package domain

import (
	"strings"
	"testing"
)

func TestValidateFingerprintShape(t *testing.T) {
	t.Parallel()

	if v := ValidateFingerprint("short", nil); v.IsValid {
		t.Fatal("short fingerprint must be rejected")
	}
	if v := ValidateFingerprint(strings.Repeat("a", 129), nil); v.IsValid {
		t.Fatal("oversized fingerprint must be rejected")
	}
	if v := ValidateFingerprint("fp-with-bad-chars-!!", nil); v.IsValid {
		t.Fatal("fingerprint with invalid characters must be rejected")
	}
	if v := ValidateFingerprint("fp-a1b2c3d4e5f6a7b8", nil); !v.IsValid {
		t.Fatalf("well-formed fingerprint rejected: %v", v.Reasons)
	}
}

func TestConfidenceComesFromComponents(t *testing.T) {
	t.Parallel()

	bare := ValidateFingerprint("fp-a1b2c3d4e5f6a7b8", nil)
	if bare.Confidence != 0 {
		t.Fatalf("confidence without components = %d, want 0", bare.Confidence)
	}
	if !bare.LowTrust() {
		t.Fatal("componentless fingerprint must be a soft key")
	}

	rich := ValidateFingerprint("fp-a1b2c3d4e5f6a7b8", map[string]any{
		"timezone":          "Europe/Berlin",
		"language":          "de-DE",
		"platform":          "MacIntel",
		"screen_resolution": "2560x1440",
		"canvas_hash":       "deadbeef",
	})
	// Five components (50, capped) plus four stable signals present.
	if rich.Confidence != 90 {
		t.Fatalf("confidence = %d, want 90", rich.Confidence)
	}
	if rich.LowTrust() {
		t.Fatal("high-confidence fingerprint must not be a soft key")
	}
}

func TestConfidenceIsCapped(t *testing.T) {
	t.Parallel()

	components := map[string]any{
		"timezone":             "UTC",
		"language":             "en",
		"platform":             "Linux",
		"screen_resolution":    "1920x1080",
		"hardware_concurrency": 8,
		"canvas_hash":          "aa",
		"webgl_hash":           "bb",
	}
	v := ValidateFingerprint("fp-a1b2c3d4e5f6a7b8", components)
	if v.Confidence != 100 {
		t.Fatalf("confidence = %d, want capped 100", v.Confidence)
	}
}
