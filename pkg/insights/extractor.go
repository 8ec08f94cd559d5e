package insights

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	headlineFallbackLen = 100
	summaryLabelWindow  = 50
	summaryShortLen     = 60
	summaryFallbackLen  = 140
	summaryMaxLen       = 160
	detailMarker        = "Detailed Analysis:"
	ellipsis            = "..."
)

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	sentencePattern  = regexp.MustCompile(`^[^.!?]+[.!?]`)
	paragraphPattern = regexp.MustCompile(`\n\s*\n`)
	boldStars        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderscores  = regexp.MustCompile(`__(.+?)__`)
)

// ContentExtractor turns accepted insight content into display segments.
// HeuristicExtractor is the default; a server that sends structured output can
// be served by a different implementation without touching the dispatcher.
type ContentExtractor interface {
	Extract(agent, content string) ClassifiedInsight
}

// HeuristicExtractor segments free text into headline, summary and detail body.
type HeuristicExtractor struct {
	// SpecialPrefixes lists boilerplate openers to strip, per agent name.
	SpecialPrefixes map[string][]string
}

// NewHeuristicExtractor returns an extractor with the known agent prefixes.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{
		SpecialPrefixes: map[string][]string{
			"Product Agent": {"Wild Product Idea:"},
		},
	}
}

func (e *HeuristicExtractor) Extract(agent, content string) ClassifiedInsight {
	clean := e.clean(agent, content)
	headline := Headline(clean)
	summary := Summary(clean)
	return ClassifiedInsight{
		Agent:      agent,
		Headline:   headline,
		Summary:    summary,
		DetailBody: DetailBody(clean, headline, summary),
		RawContent: content,
	}
}

func (e *HeuristicExtractor) clean(agent, content string) string {
	text := strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	if agent != "" {
		if rest, ok := strings.CutPrefix(text, agent+":"); ok {
			text = strings.TrimSpace(rest)
		}
	}
	for _, p := range e.SpecialPrefixes[agent] {
		if rest, ok := strings.CutPrefix(text, p); ok {
			text = strings.TrimSpace(rest)
		}
	}
	return text
}

// Headline derives a title from content: a first line set off by a blank line,
// else the text before the first colon, else the first sentence, else the first
// 100 characters.
func Headline(content string) string {
	text := stripTags(content)
	if strings.TrimSpace(text) == "" {
		return "Insight"
	}

	if title, _, ok := titleLine(text); ok {
		return sentenceCase(title)
	}
	if i := strings.IndexByte(text, ':'); i > 0 {
		if label := strings.TrimSpace(text[:i]); label != "" {
			return sentenceCase(label)
		}
	}
	if sentence := strings.TrimSpace(sentencePattern.FindString(text)); sentence != "" {
		return capitalize(sentence)
	}
	return capitalize(strings.TrimSpace(truncateRunes(text, headlineFallbackLen)))
}

// Summary derives a one- or two-sentence teaser, at most 160 characters.
func Summary(content string) string {
	text := stripTags(content)
	if strings.TrimSpace(text) == "" {
		return ""
	}

	body := text
	if _, rest, ok := titleLine(text); ok {
		body = rest
	} else if i := strings.IndexByte(text, ':'); i > 0 && utf8.RuneCountInString(text[:i]) < summaryLabelWindow {
		body = strings.TrimSpace(text[i+1:])
	}

	sentences := splitSentences(body)
	summary := strings.TrimSpace(sentences[0])
	if len(sentences) >= 2 && utf8.RuneCountInString(summary) < summaryShortLen {
		summary += " " + strings.TrimSpace(sentences[1])
	}

	if summary == "" {
		summary = strings.TrimSpace(truncateRunes(body, summaryFallbackLen))
		if utf8.RuneCountInString(body) > summaryFallbackLen {
			summary += ellipsis
		}
	}

	if utf8.RuneCountInString(summary) > summaryMaxLen {
		summary = truncateRunes(summary, summaryMaxLen-len(ellipsis)) + ellipsis
	}
	return summary
}

// DetailBody returns the formatted remainder of content once the headline and
// summary have been taken off the front.
func DetailBody(content, headline, summary string) string {
	full := strings.TrimSpace(stripTags(content))

	text := full
	if n, ok := matchLeading(text, headline); ok && endsCleanly(headline, text[n:]) {
		text = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(text[n:]), ":"))
	}
	// A truncated summary is not a clean prefix; leave the full sentence in the body.
	if !strings.HasSuffix(summary, ellipsis) {
		if n, ok := matchLeading(text, summary); ok {
			text = strings.TrimSpace(text[n:])
		}
		// The summary may itself start with the headline sentence.
		if n, ok := matchLeading(full, summary); ok {
			if alt := strings.TrimSpace(full[n:]); len(alt) < len(text) {
				text = alt
			}
		}
	}
	if i := strings.Index(text, detailMarker); i >= 0 {
		text = strings.TrimSpace(text[i+len(detailMarker):])
	}
	return FormatDetail(text)
}

// FormatDetail applies the lightweight markup used by the view layer. Text is
// HTML-escaped first so only the markup added here is live.
func FormatDetail(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return ""
	}

	var b strings.Builder
	for _, para := range paragraphPattern.Split(text, -1) {
		b.WriteString("<p>")
		prevText := false
		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimRight(line, " \t")
			if item, ok := bulletItem(line); ok {
				b.WriteString(`<div class="bullet-point">• `)
				b.WriteString(emphasize(html.EscapeString(item)))
				b.WriteString("</div>")
				prevText = false
				continue
			}
			if prevText {
				b.WriteString("<br>")
			}
			b.WriteString(emphasize(html.EscapeString(line)))
			prevText = true
		}
		b.WriteString("</p>")
	}
	return b.String()
}

func bulletItem(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimLeft(line, " \t"), "•")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func emphasize(s string) string {
	s = boldStars.ReplaceAllString(s, "<strong>$1</strong>")
	return boldUnderscores.ReplaceAllString(s, "<strong>$1</strong>")
}

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// titleLine reports a non-empty first line followed by a blank line, and the text after it.
func titleLine(text string) (title, rest string, ok bool) {
	lines := strings.SplitN(text, "\n", 3)
	if len(lines) < 3 || strings.TrimSpace(lines[0]) == "" || strings.TrimSpace(lines[1]) != "" {
		return "", "", false
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[2]), true
}

// splitSentences splits after . ! or ? when followed by whitespace. It always
// returns at least one element.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if c := text[i]; c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for j < len(text) && isSpaceByte(text[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		out = append(out, text[start:i+1])
		start = j
		i = j - 1
	}
	if start < len(text) || len(out) == 0 {
		out = append(out, text[start:])
	}
	return out
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

// matchLeading reports whether text starts with seg, ignoring case and treating
// any run of whitespace as equal to any other. n is the byte length consumed in text.
func matchLeading(text, seg string) (n int, ok bool) {
	seg = strings.TrimSpace(seg)
	if seg == "" {
		return 0, false
	}
	ti, si := 0, 0
	for si < len(seg) {
		if ti >= len(text) {
			return 0, false
		}
		sr, sw := utf8.DecodeRuneInString(seg[si:])
		tr, tw := utf8.DecodeRuneInString(text[ti:])
		if unicode.IsSpace(sr) {
			if !unicode.IsSpace(tr) {
				return 0, false
			}
			si = skipSpace(seg, si)
			ti = skipSpace(text, ti)
			continue
		}
		if sr != tr && unicode.ToLower(sr) != unicode.ToLower(tr) {
			return 0, false
		}
		si += sw
		ti += tw
	}
	return ti, true
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += w
	}
	return i
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// endsCleanly reports whether a headline matched at the front of the text stops
// at a label colon, a sentence terminator or a line break. A headline cut at a
// fixed length does not, and stripping it would split a word.
func endsCleanly(headline, rest string) bool {
	if rest == "" || strings.HasSuffix(headline, ".") || strings.HasSuffix(headline, "!") || strings.HasSuffix(headline, "?") {
		return true
	}
	rest = strings.TrimLeft(rest, " \t")
	return rest == "" || rest[0] == ':' || rest[0] == '\n' || rest[0] == '\r'
}

// capitalize upper-cases the first character and leaves the rest as written.
func capitalize(s string) string {
	r, w := utf8.DecodeRuneInString(s)
	if w == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[w:]
}

// sentenceCase upper-cases the first character and lower-cases later words that
// are plain title case ("Revenue Model" -> "Revenue model"). Acronyms and
// mixed-case words like "AI" or "SaaS" are left alone.
func sentenceCase(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	first := true
	for i := 0; i < len(r); {
		if !unicode.IsLetter(r[i]) {
			i++
			continue
		}
		j := i
		for j < len(r) && unicode.IsLetter(r[j]) {
			j++
		}
		if !first && isTitleWord(r[i:j]) {
			r[i] = unicode.ToLower(r[i])
		}
		first = false
		i = j
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func isTitleWord(w []rune) bool {
	if len(w) < 2 || !unicode.IsUpper(w[0]) {
		return false
	}
	for _, c := range w[1:] {
		if !unicode.IsLower(c) {
			return false
		}
	}
	return true
}
