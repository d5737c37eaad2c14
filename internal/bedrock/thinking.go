package bedrock

import (
	"regexp"
	"strings"
)

// Some model families leak their reasoning trace into the text output
// wrapped in <thinking> markers. The trace is not meant for the end
// user and is stripped before the text reaches the chat log.

var (
	thinkingRe = regexp.MustCompile(`(?is)<thinking>.*?</thinking>`)
	// Three or more newlines (with interspersed whitespace) left behind
	// by span removal collapse to a single blank line.
	excessNewlinesRe = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// StripThinking removes every <thinking>…</thinking> span from text,
// matching case-insensitively across lines. It reports whether any
// span was found. The cleaned text has runs of 3+ newlines collapsed
// to two and surrounding whitespace trimmed.
func StripThinking(text string) (string, bool) {
	cleaned := thinkingRe.ReplaceAllString(text, "")
	hadThinking := cleaned != text

	cleaned = excessNewlinesRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned), hadThinking
}
