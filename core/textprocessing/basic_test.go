package textprocessing

import (
	"strings"
	"testing"
)

func TestBasicRedactsEmail(t *testing.T) {
	b := NewBasic()

	result, err := b.Process("reach me at jane.doe@example.com for details")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.PIIDetected {
		t.Fatal("expected PII detection")
	}
	if strings.Contains(result.Processed, "example.com") {
		t.Fatalf("email leaked: %q", result.Processed)
	}
	if !strings.Contains(result.Processed, "[email]") {
		t.Fatalf("expected redaction marker: %q", result.Processed)
	}
}

func TestBasicRedactsAccountNumbers(t *testing.T) {
	b := NewBasic()

	result, _ := b.Process("your account 12345678 is active")
	if !result.PIIDetected {
		t.Fatal("expected PII detection")
	}
	if strings.Contains(result.Processed, "12345678") {
		t.Fatalf("account number leaked: %q", result.Processed)
	}
}

func TestBasicPhoneRedactionOptIn(t *testing.T) {
	text := "call 555-123-4567 tomorrow"

	off, _ := NewBasic().Process(text)
	if off.PIIDetected {
		t.Fatal("phone redaction should be off by default")
	}

	on, _ := NewBasic(WithPhoneRedaction(true)).Process(text)
	if !on.PIIDetected {
		t.Fatal("expected phone detection")
	}
	if strings.Contains(on.Processed, "555-123-4567") {
		t.Fatalf("phone number leaked: %q", on.Processed)
	}
}

func TestBasicQualifiesForbiddenClaims(t *testing.T) {
	b := NewBasic()

	result, _ := b.Process("This plan offers guaranteed returns every year.")
	if !result.ComplianceFixed {
		t.Fatal("expected compliance fix")
	}
	if !strings.Contains(result.Processed, claimDisclaimer) {
		t.Fatalf("expected disclaimer in %q", result.Processed)
	}
}

func TestBasicExtraClaims(t *testing.T) {
	b := NewBasic(WithForbiddenClaims("double your money"))

	result, _ := b.Process("You can double your money here.")
	if !result.ComplianceFixed {
		t.Fatal("expected compliance fix for configured claim")
	}
}

func TestBasicNormalizesWhitespace(t *testing.T) {
	b := NewBasic()

	result, _ := b.Process("  hello   there\n\tworld  ")
	if result.Processed != "hello there world" {
		t.Fatalf("unexpected normalization: %q", result.Processed)
	}
	if result.PIIDetected || result.ComplianceFixed {
		t.Fatal("plain text should not flag anything")
	}
}
