// Package prompt turns a window snapshot into the scoring request body.
package prompt

import (
	"strings"

	"beepbot/internal/chat"
	"beepbot/internal/normalize"
)

type Strategy string

const (
	// FreeText normalizes each message and joins the survivors with blank
	// lines, truncated to MaxLen before the suffix is appended.
	FreeText Strategy = "freetext"
	// Structured renders every raw message as a " <author> --> <text> "
	// turn behind a fixed start marker. No per-message filtering.
	Structured Strategy = "structured"
)

// Wire constants the model was fine-tuned against. Changing any of these
// invalidates the deployed model.
const (
	Suffix        = "\n\n###\n\n"
	StartMarker   = "start -> "
	turnSeparator = "\n\n"
	DefaultMaxLen = 5000
)

type Builder struct {
	strategy Strategy
	maxLen   int
}

func NewBuilder(strategy Strategy, maxLen int) *Builder {
	if strategy != Structured {
		strategy = FreeText
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Builder{strategy: strategy, maxLen: maxLen}
}

// Build renders the snapshot (arrival order == chronological) into a
// request body. ok=false means nothing scoreable was left, in which case
// the trigger cycle should be skipped. Identical snapshots produce
// byte-identical output.
func (b *Builder) Build(snapshot []chat.Message) (string, bool) {
	if len(snapshot) == 0 {
		return "", false
	}
	switch b.strategy {
	case Structured:
		return b.buildStructured(snapshot), true
	default:
		return b.buildFreeText(snapshot)
	}
}

func (b *Builder) buildFreeText(snapshot []chat.Message) (string, bool) {
	cleaned := make([]string, 0, len(snapshot))
	for _, m := range snapshot {
		if text, ok := normalize.Clean(m.Text); ok {
			cleaned = append(cleaned, text)
		}
	}
	if len(cleaned) == 0 {
		return "", false
	}
	body := truncateRunes(strings.Join(cleaned, turnSeparator), b.maxLen)
	return body + Suffix, true
}

// truncateRunes hard-cuts s to at most max characters. The limit counts
// runes, not bytes, so a multibyte character is never split. The model
// tolerates a clipped final word.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

func (b *Builder) buildStructured(snapshot []chat.Message) string {
	turns := make([]string, 0, len(snapshot))
	for _, m := range snapshot {
		turns = append(turns, " "+m.User+" --> "+m.Text+" ")
	}
	return StartMarker + strings.Join(turns, turnSeparator) + Suffix
}
