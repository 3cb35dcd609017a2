package codehash

import (
	"errors"
	"regexp"
	"testing"
)

func TestHashStableUnderReformatting(test *testing.T) {
	test.Parallel()
	formatted, err := Hash("ABCD-1234-EFGH-5678")
	if err != nil {
		test.Fatalf("hash formatted: %v", err)
	}
	compact, err := Hash("abcd1234efgh5678")
	if err != nil {
		test.Fatalf("hash compact: %v", err)
	}
	if formatted != compact {
		test.Fatalf("expected equal digests, got %s vs %s", formatted, compact)
	}
	spaced, err := Hash("  abcd 1234-efgh 5678 ")
	if err != nil {
		test.Fatalf("hash spaced: %v", err)
	}
	if spaced != formatted {
		test.Fatalf("expected digest to ignore spacing, got %s vs %s", spaced, formatted)
	}
}

func TestHashIsLowercaseHexSHA256(test *testing.T) {
	test.Parallel()
	digest, err := Hash("WXYZ-0000-1111-2222")
	if err != nil {
		test.Fatalf("hash: %v", err)
	}
	if matched := regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(digest); !matched {
		test.Fatalf("digest %q is not 64 lowercase hex chars", digest)
	}
}

func TestHashRejectsEmptyInput(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "----", "  ", "!!??"} {
		if _, err := Hash(raw); !errors.Is(err, ErrEmptyCode) {
			test.Fatalf("expected ErrEmptyCode for %q, got %v", raw, err)
		}
	}
}

func TestNormalizeStripsSeparatorsAndCase(test *testing.T) {
	test.Parallel()
	if got := Normalize("abcd-1234 efGH_5678"); got != "ABCD1234EFGH5678" {
		test.Fatalf("unexpected normalization: %q", got)
	}
}

func TestGenerateMatchesClientFormat(test *testing.T) {
	test.Parallel()
	pattern := regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		code, err := Generate()
		if err != nil {
			test.Fatalf("generate: %v", err)
		}
		if !pattern.MatchString(code) {
			test.Fatalf("code %q does not match the 4x4 dash format", code)
		}
		if seen[code] {
			test.Fatalf("generated duplicate code %q", code)
		}
		seen[code] = true
		if _, err := Hash(code); err != nil {
			test.Fatalf("generated code must hash cleanly: %v", err)
		}
	}
}
