package insights

import (
	"strings"
	"unicode/utf8"
)

// MinInsightLength is the shortest insight content (in characters) worth showing.
const MinInsightLength = 50

// RejectReason names the quality rule that dropped an insight.
type RejectReason string

const (
	RejectNone                RejectReason = ""
	RejectInsufficientContext RejectReason = "insufficient_context"
	RejectTooShort            RejectReason = "too_short"
	RejectApology             RejectReason = "apology"
)

// Phrases are matched as lower-case substrings.
var (
	insufficientContextPhrases = []string{
		"insufficient context",
		"no business context",
		"no_business_context",
		"not enough context",
		"no context",
		"doesn't contain",
		"does not contain",
		"doesn't provide",
		"does not provide",
	}
	apologyPhrases = []string{
		"i apologize",
		"i'm sorry",
		"i am sorry",
		"unable to generate",
	}
)

// QualityFilter drops low-value insight content. Rules run in a fixed order and
// the first match wins.
type QualityFilter struct {
	InsufficientContext []string
	Apologies           []string
	MinLength           int
}

// NewQualityFilter returns the filter with the default rule set.
func NewQualityFilter() *QualityFilter {
	return &QualityFilter{
		InsufficientContext: insufficientContextPhrases,
		Apologies:           apologyPhrases,
		MinLength:           MinInsightLength,
	}
}

// Evaluate returns the reason content is rejected, or RejectNone if it passes.
func (f *QualityFilter) Evaluate(content string) RejectReason {
	lower := strings.ToLower(content)
	if containsAny(lower, f.InsufficientContext) {
		return RejectInsufficientContext
	}
	if utf8.RuneCountInString(content) < f.MinLength {
		return RejectTooShort
	}
	if containsAny(lower, f.Apologies) {
		return RejectApology
	}
	return RejectNone
}

// Accept reports whether content passes every rule.
func (f *QualityFilter) Accept(content string) bool {
	return f.Evaluate(content) == RejectNone
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
