package policy

import (
	"strings"
	"testing"
)

func TestVerifyIngestSecret(t *testing.T) {
	if !VerifyIngestSecret("s3cret", "s3cret") {
		t.Fatalf("matching secret rejected")
	}
	if VerifyIngestSecret("s3cret", "wrong") {
		t.Fatalf("wrong secret accepted")
	}
	if VerifyIngestSecret("s3cret", "") {
		t.Fatalf("empty presented secret accepted")
	}
	if VerifyIngestSecret("", "") {
		t.Fatalf("unconfigured secret accepted a request")
	}
	if VerifyIngestSecret("   ", "   ") {
		t.Fatalf("whitespace-only configured secret accepted a request")
	}
}

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "sam@example.com") || strings.Contains(out, "4242") {
		t.Fatalf("raw PII survived redaction: %q", out)
	}
}

func TestRedactPIIUntouched(t *testing.T) {
	input := "I led the migration of our billing service to Go."
	out, changed := RedactPII(input)
	if changed {
		t.Fatalf("changed = true for clean input")
	}
	if out != input {
		t.Fatalf("clean input was modified: %q", out)
	}
}
