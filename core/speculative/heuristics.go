package speculative

import (
	"strings"
	"unicode"

	"github.com/elaravoice/elara-core/core/llms"
)

// markers that suggest a query needs the slow model.
var complexityMarkers = []string{
	"explain", "analyze", "compare", "describe", "calculate",
	"summarize", "translate", "समझाइए", "विश्लेषण", "तुलना",
}

// estimateComplexity scores the latest message on cheap lexical signals.
func (e *Executor) estimateComplexity(messages []llms.Message) float64 {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}

	var score float64
	if len(last) > 200 {
		score += 0.2
	}

	lowered := strings.ToLower(last)
	for _, marker := range complexityMarkers {
		if strings.Contains(lowered, marker) {
			score += 0.3
		}
	}

	if strings.Count(last, "?") > 1 {
		score += 0.2
	}
	if strings.Contains(last, "```") || strings.Contains(last, "code") {
		score += 0.3
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// phrases that mark a generation failure rather than polite hedging.
var errorIndicators = []string{
	"error:", "exception", "failed to", "invalid input", "त्रुटि", "गलती हुई",
}

// estimateQuality scores a response between 0 and 1. Streamed prefixes
// start short, so brevity is penalized only mildly.
func (e *Executor) estimateQuality(response string, _ []llms.Message) float64 {
	score := 1.0

	if len(response) < 10 {
		score -= 0.1
	}

	words := strings.Fields(response)
	if len(words) > 8 {
		unique := map[string]struct{}{}
		for _, w := range words {
			unique[w] = struct{}{}
		}
		// A low unique ratio means the model is looping. The bar sits
		// at 0.35 because conversational Hindi repeats conjunctions.
		if float64(len(unique))/float64(len(words)) < 0.35 {
			score -= 0.3
		}
	}

	lowered := strings.ToLower(response)
	for _, indicator := range errorIndicators {
		if strings.Contains(lowered, indicator) {
			score -= 0.3
			break
		}
	}

	if len(response) > 0 {
		var special int
		for _, r := range response {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) &&
				r != '।' && r != '?' && r != '!' {
				special++
			}
		}
		if float64(special)/float64(len([]rune(response))) > 0.3 {
			score -= 0.4
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

// estimateCoherence scores keyword overlap between the response and the
// last user message. Moderate overlap reads as on-topic; near-total
// overlap reads as parroting.
func (e *Executor) estimateCoherence(response string, messages []llms.Message) float64 {
	var lastUser string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.RoleUser {
			lastUser = messages[i].Content
			break
		}
	}

	userWords := substantialWords(lastUser)
	responseWords := substantialWords(response)
	if len(userWords) == 0 || len(responseWords) == 0 {
		return 0.7
	}

	var overlap int
	for w := range userWords {
		if _, ok := responseWords[w]; ok {
			overlap++
		}
	}

	smaller := len(userWords)
	if len(responseWords) < smaller {
		smaller = len(responseWords)
	}
	ratio := float64(overlap) / float64(smaller)

	switch {
	case ratio > 0.8:
		return 0.6
	case ratio > 0.1:
		return 0.9
	default:
		return 0.5
	}
}

// estimateDomainRelevance counts configured domain terms in the
// response. Without configured terms it stays neutral.
func (e *Executor) estimateDomainRelevance(response string) float64 {
	if len(e.config.DomainTerms) == 0 {
		return 0.7
	}

	lowered := strings.ToLower(response)
	var matches int
	for _, term := range e.config.DomainTerms {
		if strings.Contains(lowered, strings.ToLower(term)) {
			matches++
		}
	}

	switch {
	case matches == 0:
		return 0.5
	case matches == 1:
		return 0.7
	case matches <= 3:
		return 0.85
	default:
		return 0.95
	}
}

// verifyDraft scores a draft without touching the slow model, since a
// verification call would erase the latency win.
func (e *Executor) verifyDraft(draft string, messages []llms.Message) float64 {
	quality := e.estimateQuality(draft, messages)
	if quality < 0.5 {
		return quality
	}

	coherence := e.estimateCoherence(draft, messages)
	relevance := e.estimateDomainRelevance(draft)

	score := quality*0.4 + coherence*0.3 + relevance*0.3
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// closing phrases that signal a finished response without terminal
// punctuation.
var closingPhrases = []string{
	"thank you", "धन्यवाद", "please let me know", "any questions",
	"help you", "assist you", "और कुछ", "और जानकारी",
}

// isCompleteResponse reports whether the accumulated text reads as a
// finished reply.
func (e *Executor) isCompleteResponse(response string) bool {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return false
	}

	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "?") ||
		strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "।") {
		return true
	}

	lowered := strings.ToLower(trimmed)
	for _, phrase := range closingPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func substantialWords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(text) {
		if len(w) > 3 {
			out[w] = struct{}{}
		}
	}
	return out
}
