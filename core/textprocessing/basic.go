package textprocessing

import (
	"regexp"
	"strings"
)

var (
	phonePattern   = regexp.MustCompile(`(\+?\d{1,3}[\s-]?)?(\(\d{2,4}\)[\s-]?)?\d{3,4}[\s-]?\d{3,4}([\s-]?\d{2,4})?`)
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	accountPattern = regexp.MustCompile(`(?i)\b(account|acct|a/c)[\s#:.]*\d{4,}\b`)
	spacesPattern  = regexp.MustCompile(`\s+`)

	// Claims that cannot be spoken without qualification.
	forbiddenClaims = []string{
		"guaranteed returns",
		"guaranteed profit",
		"risk-free",
		"no risk at all",
		"cannot lose",
	}
)

const claimDisclaimer = "subject to applicable terms"

// Basic is a regex-driven processor covering PII redaction and a
// forbidden-claims compliance pass.
type Basic struct {
	redactPhones bool
	extraClaims  []string
}

// BasicOption configures a Basic processor.
type BasicOption func(*Basic)

// WithPhoneRedaction toggles phone number redaction, which is off by
// default because digit runs in normal speech trip the pattern.
func WithPhoneRedaction(enabled bool) BasicOption {
	return func(b *Basic) { b.redactPhones = enabled }
}

// WithForbiddenClaims adds domain-specific claims to qualify.
func WithForbiddenClaims(claims ...string) BasicOption {
	return func(b *Basic) { b.extraClaims = append(b.extraClaims, claims...) }
}

// NewBasic creates a processor with the default rules.
func NewBasic(opts ...BasicOption) *Basic {
	b := &Basic{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Process redacts PII, qualifies forbidden claims, and normalizes
// whitespace.
func (b *Basic) Process(text string) (Result, error) {
	result := Result{Original: text, Processed: text}

	if emailPattern.MatchString(result.Processed) {
		result.Processed = emailPattern.ReplaceAllString(result.Processed, "[email]")
		result.PIIDetected = true
	}
	if accountPattern.MatchString(result.Processed) {
		result.Processed = accountPattern.ReplaceAllString(result.Processed, "[account]")
		result.PIIDetected = true
	}
	if b.redactPhones && phonePattern.MatchString(result.Processed) {
		result.Processed = phonePattern.ReplaceAllString(result.Processed, "[phone]")
		result.PIIDetected = true
	}

	lowered := strings.ToLower(result.Processed)
	for _, claim := range append(append([]string{}, forbiddenClaims...), b.extraClaims...) {
		idx := strings.Index(lowered, claim)
		if idx < 0 {
			continue
		}
		end := idx + len(claim)
		result.Processed = result.Processed[:end] + " (" + claimDisclaimer + ")" + result.Processed[end:]
		lowered = strings.ToLower(result.Processed)
		result.ComplianceFixed = true
	}

	result.Processed = strings.TrimSpace(spacesPattern.ReplaceAllString(result.Processed, " "))
	return result, nil
}
