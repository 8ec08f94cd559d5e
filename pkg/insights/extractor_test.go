package insights

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestHeadline(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"label before colon", "Revenue Model:\nCharge per seat.", "Revenue model"},
		{"title line", "Big Idea\n\nDetails follow.", "Big idea"},
		{"title line wins over colon", "Market Gap\n\nNote: competitors ignore SMBs.", "Market gap"},
		{"first sentence", "customers want annual plans. They said so twice.", "Customers want annual plans."},
		{"question", "should we raise prices? Maybe not yet", "Should we raise prices?"},
		{"sentence keeps proper nouns", "Meeting with Salesforce went well. They asked for a demo.", "Meeting with Salesforce went well."},
		{"acronyms kept", "AI Pricing Engine: dynamic discounts", "AI pricing engine"},
		{"mixed case kept", "SaaS Metrics: net revenue retention", "SaaS metrics"},
		{"tags stripped", "<b>Big Idea</b>\n\nDetails follow.", "Big idea"},
		{"empty", "", "Insight"},
		{"only whitespace", "  \n ", "Insight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Headline(tt.content); got != tt.want {
				t.Errorf("Headline(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestHeadlineFallsBackToFirstHundredCharacters(t *testing.T) {
	content := strings.Repeat("lorem ", 20)
	want := "L" + content[1:100]
	if got := Headline(content); got != want {
		t.Errorf("Headline = %q, want %q", got, want)
	}
}

func TestHeadlineFallbackKeepsCase(t *testing.T) {
	content := strings.Repeat("Lorem Ipsum ", 10)
	if got, want := Headline(content), strings.TrimSpace(content[:100]); got != want {
		t.Errorf("Headline = %q, want %q", got, want)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"skips label", "Revenue Model:\nCharge per seat.", "Charge per seat."},
		{"skips title line", "Big Idea\n\nDetails follow.", "Details follow."},
		{"appends second sentence when first is short", "Churn is up. Fix onboarding first. Then pricing.", "Churn is up. Fix onboarding first."},
		{
			"single long first sentence",
			"This opening sentence is deliberately long enough to pass the sixty character mark. Second.",
			"This opening sentence is deliberately long enough to pass the sixty character mark.",
		},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summary(tt.content); got != tt.want {
				t.Errorf("Summary(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestSummaryIsCapped(t *testing.T) {
	got := Summary(strings.Repeat("x", 200) + ".")
	if n := utf8.RuneCountInString(got); n != summaryMaxLen {
		t.Errorf("summary length = %d, want %d", n, summaryMaxLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("summary %q does not end with an ellipsis", got)
	}
}

func TestFormatDetail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"line break", "a\nb", "<p>a<br>b</p>"},
		{"paragraphs", "a\n\nb", "<p>a</p><p>b</p>"},
		{"paragraph with blank spaces", "a\n  \nb", "<p>a</p><p>b</p>"},
		{"emphasis", "__x__ and **y**", "<p><strong>x</strong> and <strong>y</strong></p>"},
		{"escaped", "1 < 2 & 3", "<p>1 &lt; 2 &amp; 3</p>"},
		{
			"bullets",
			"Steps:\n• Call **Acme**\n• Send quote",
			`<p>Steps:<div class="bullet-point">• Call <strong>Acme</strong></div><div class="bullet-point">• Send quote</div></p>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDetail(tt.in); got != tt.want {
				t.Errorf("FormatDetail(%q) =\n%s\nwant\n%s", tt.in, got, tt.want)
			}
		})
	}
}

func TestHeuristicExtractorStripsPrefixes(t *testing.T) {
	content := "Product Agent: Wild Product Idea: Subscription boxes for pet owners. Recurring revenue with low churn makes this attractive."
	got := NewHeuristicExtractor().Extract("Product Agent", content)

	if got.Agent != "Product Agent" {
		t.Errorf("Agent = %q", got.Agent)
	}
	if got.Headline != "Subscription boxes for pet owners." {
		t.Errorf("Headline = %q", got.Headline)
	}
	want := "Subscription boxes for pet owners. Recurring revenue with low churn makes this attractive."
	if got.Summary != want {
		t.Errorf("Summary = %q, want %q", got.Summary, want)
	}
	if got.DetailBody != "" {
		t.Errorf("DetailBody = %q, want empty", got.DetailBody)
	}
	if got.RawContent != content {
		t.Errorf("RawContent was modified")
	}
	for _, field := range []string{got.Headline, got.Summary} {
		if strings.Contains(field, "Wild Product Idea") || strings.Contains(field, "Product Agent:") {
			t.Errorf("prefix leaked into %q", field)
		}
	}
}

func TestHeuristicExtractorSpecialPrefixOnlyForItsAgent(t *testing.T) {
	got := NewHeuristicExtractor().Extract("Sales Agent", "Wild Product Idea: resell the analytics module to channel partners.")
	if got.Headline != "Wild product idea" {
		t.Errorf("Headline = %q, want the label kept for other agents", got.Headline)
	}
}

func TestDetailBodyDoesNotRepeatHeadlineOrSummary(t *testing.T) {
	unpunctuated := strings.TrimSpace(strings.Repeat("no punctuation at all just words ", 10))

	tests := []struct {
		name       string
		content    string
		headline   string
		detailBody string
		// keepsLead is set when neither headline nor summary ends on a boundary,
		// so the body carries the whole text.
		keepsLead bool
	}{
		{
			name: "summary stripped",
			content: "Churn Risk: Enterprise accounts are slipping. Three of the five largest customers mentioned evaluating competitors. " +
				"Schedule executive check-ins this week and prepare a retention offer that bundles premium support at no extra cost for the next renewal cycle.",
			headline: "Churn risk",
			detailBody: "<p>Schedule executive check-ins this week and prepare a retention offer that bundles premium support " +
				"at no extra cost for the next renewal cycle.</p>",
		},
		{
			name: "detailed analysis marker",
			content: "Pricing Strategy: Move to usage-based billing. Customers on the current flat plan are overpaying for features they never use, " +
				"and the sales team reports that this is the top objection in renewal calls this quarter.\n\n" +
				"Detailed Analysis: Usage-based pricing aligns cost with value.\n• Track seat activity\n• Offer **annual** commitments",
			headline: "Pricing strategy",
			detailBody: `<p>Usage-based pricing aligns cost with value.<div class="bullet-point">• Track seat activity</div>` +
				`<div class="bullet-point">• Offer <strong>annual</strong> commitments</div></p>`,
		},
		{
			name: "crlf and headline sentence",
			content: "Upsell the analytics add-on to accounts that export weekly.\r\nThey already do the work by hand.\r\n\r\n" +
				"Bundle it with onboarding for teams above fifty seats, and track the conversion rate over the next two quarters to confirm the effect.",
			headline:   "Upsell the analytics add-on to accounts that export weekly.",
			detailBody: "<p>Bundle it with onboarding for teams above fifty seats, and track the conversion rate over the next two quarters to confirm the effect.</p>",
		},
		{
			name:       "length cut headline is not stripped",
			content:    unpunctuated,
			headline:   "N" + unpunctuated[1:100],
			detailBody: "<p>" + unpunctuated + "</p>",
			keepsLead:  true,
		},
	}
	e := NewHeuristicExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if utf8.RuneCountInString(tt.content) <= summaryMaxLen {
				t.Fatalf("test input must be longer than %d characters", summaryMaxLen)
			}
			got := e.Extract("Strategy Agent", tt.content)
			if got.Headline != tt.headline {
				t.Errorf("Headline = %q, want %q", got.Headline, tt.headline)
			}
			if got.DetailBody != tt.detailBody {
				t.Errorf("DetailBody =\n%s\nwant\n%s", got.DetailBody, tt.detailBody)
			}
			if lead := strings.TrimSuffix(got.Summary, ellipsis); !tt.keepsLead && strings.Contains(got.DetailBody, lead) {
				t.Errorf("DetailBody repeats the summary %q", lead)
			}
		})
	}
}
