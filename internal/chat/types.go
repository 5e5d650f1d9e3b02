package chat

import (
	"context"
	"time"
)

// Message is one inbound chat message, immutable once ingested.
//
// TS is the platform's own timestamp token (Slack "1691245406.123456"
// style, or a message id rendered as a string). It is carried verbatim
// because permalink resolution needs the exact token back. At is the
// monotonic-comparable arrival/platform time used for ordering decisions.
type Message struct {
	ID        string
	Channel   string
	Thread    string // thread key; empty when the message is not threaded
	User      string
	Text      string
	TS        string
	At        time.Time
	Reactions map[string]int // optional auxiliary data; nil for most messages
}

// ConversationKey identifies one logical window. Two messages with the
// same key belong to the same conversation.
type ConversationKey struct {
	Channel string
	Thread  string
}

func KeyOf(m Message) ConversationKey {
	return ConversationKey{Channel: m.Channel, Thread: m.Thread}
}

func (k ConversationKey) String() string {
	if k.Thread == "" {
		return k.Channel
	}
	return k.Channel + "/" + k.Thread
}

// MessageRef points back at a message within its originating channel.
type MessageRef struct {
	Channel string
	TS      string
}

// Source delivers live platform events. Implementations must acknowledge
// receipt to the platform immediately and hand messages to out with a
// non-blocking send; a full channel means the message is dropped, never
// that the platform connection stalls.
type Source interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// Messenger is the outbound side of the chat platform.
//
// OpenDM resolves the direct-message channel for a user. ok=false (with a
// nil error) means the user has not opted in / installed the integration;
// that is a skip, not a failure.
type Messenger interface {
	OpenDM(ctx context.Context, userID string) (channelID string, ok bool, err error)
	Permalink(ctx context.Context, ref MessageRef) (string, error)
	Post(ctx context.Context, channelID, text string) error
}
