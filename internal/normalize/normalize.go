// Package normalize strips chat-platform markup out of message text
// before it is used for scoring.
package normalize

import (
	"regexp"
	"strings"
)

// Platform references (user mentions, links) arrive bracket-delimited,
// emoji as colon-delimited shortcodes. Non-greedy so nested-looking
// markers resolve to the leftmost shortest match.
var (
	refRe   = regexp.MustCompile(`<.*?>`)
	emojiRe = regexp.MustCompile(`:.*?:`)
)

const codeFence = "```"

// Clean strips platform references and emoji codes and trims whitespace.
// ok=false means the message carries no scoreable text: the result was
// empty, or the text contains a code fence (code-only fragments are noise
// for the model). Clean is pure and idempotent.
func Clean(raw string) (string, bool) {
	s := refRe.ReplaceAllString(raw, "")
	s = emojiRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, codeFence) {
		return "", false
	}
	return s, true
}
