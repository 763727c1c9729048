// Package textprocessing rewrites assistant text before it is spoken,
// redacting sensitive data and enforcing required phrasing.
package textprocessing

// Result is the outcome of processing one piece of text.
type Result struct {
	Original        string
	Processed       string
	PIIDetected     bool
	ComplianceFixed bool
}

// Processor rewrites text destined for synthesis.
type Processor interface {
	Process(text string) (Result, error)
}
