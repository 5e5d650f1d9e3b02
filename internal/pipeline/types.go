package pipeline

import (
	"context"
	"time"

	"beepbot/internal/chat"
	"beepbot/internal/notifier"
)

type Cadence string

const (
	// CadencePerMessage runs a scoring cycle on every ingested message.
	CadencePerMessage Cadence = "per_message"
	// CadencePerWindow runs a cycle only when the window is full.
	CadencePerWindow Cadence = "per_window"
)

type Direction string

const (
	// DirectionNewest uses the most recent window message as the alert context.
	DirectionNewest Direction = "newest"
	DirectionOldest Direction = "oldest"
)

type Config struct {
	Cadence   Cadence
	Direction Direction
	// QueueSize bounds the ingest channel; a full queue drops the message.
	QueueSize int
	// Workers is the number of concurrent scoring cycles.
	Workers int
}

// Deliverer is the downstream alert sink, satisfied by notifier.Service.
type Deliverer interface {
	Deliver(ctx context.Context, key chat.ConversationKey, trigger chat.Message, users []string) []notifier.Outcome
}

// CycleEvent is emitted on the event bus after each scoring cycle.
type CycleEvent struct {
	Key        string    `json:"key"`
	At         time.Time `json:"at"`
	WindowSize int       `json:"window_size"`
	Recipients int       `json:"recipients"`
	Sent       int       `json:"sent"`
	Error      string    `json:"error,omitempty"`
}
