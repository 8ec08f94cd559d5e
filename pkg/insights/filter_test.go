package insights

import (
	"strings"
	"testing"
)

func TestQualityFilterEvaluate(t *testing.T) {
	long := "Customer churn rises sharply when onboarding exceeds two weeks."

	tests := []struct {
		name    string
		content string
		want    RejectReason
	}{
		{"short", "ok", RejectTooShort},
		{"empty", "", RejectTooShort},
		{"exactly fifty", strings.Repeat("a", 50), RejectNone},
		{"forty nine", strings.Repeat("a", 49), RejectTooShort},
		{"fifty multibyte runes", strings.Repeat("é", 50), RejectNone},
		{"accepted", long, RejectNone},
		{"no business context token", "Status: NO_BUSINESS_CONTEXT was returned for this chunk of audio", RejectInsufficientContext},
		{"short no context wins over length", "no context", RejectInsufficientContext},
		{"insufficient context mixed case", "There is Insufficient Context in the transcript to say anything useful.", RejectInsufficientContext},
		{"does not contain", "The conversation does not contain anything related to pricing or sales.", RejectInsufficientContext},
		{"apology", "I'm sorry, but I cannot produce an insight from this part of the meeting.", RejectApology},
		{"unable to generate", "Unable to generate a useful recommendation from the current discussion.", RejectApology},
	}
	f := NewQualityFilter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Evaluate(tt.content); got != tt.want {
				t.Errorf("Evaluate(%q) = %q, want %q", tt.content, got, tt.want)
			}
			if got := f.Accept(tt.content); got != (tt.want == RejectNone) {
				t.Errorf("Accept(%q) = %v", tt.content, got)
			}
		})
	}
}

func TestQualityFilterCustomRules(t *testing.T) {
	f := &QualityFilter{Apologies: []string{"nope"}, MinLength: 3}
	if got := f.Evaluate("nope nope"); got != RejectApology {
		t.Errorf("Evaluate = %q, want %q", got, RejectApology)
	}
	if got := f.Evaluate("yes"); got != RejectNone {
		t.Errorf("Evaluate = %q, want accepted", got)
	}
}
