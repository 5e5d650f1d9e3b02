package notifier

import "time"

// Config controls per-recipient alert delivery.
type Config struct {
	// Workers bounds how many recipients are contacted concurrently
	// within one cycle.
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration

	// DedupWindow suppresses a repeat alert for the same (recipient,
	// conversation, trigger) inside the window. 0 disables.
	DedupWindow     time.Duration
	DedupMaxEntries int
	// PersistDedup mirrors suppression marks into the storage layer so a
	// restart cannot resend; best-effort.
	PersistDedup bool

	// SnippetMaxLen caps the triggering-message excerpt in the alert text.
	SnippetMaxLen int
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusNoDM    Status = "no_dm"    // user has not opted in; skip, not an error
	StatusDeduped Status = "deduped"  // suppressed inside the dedup window
	StatusFailed  Status = "failed"   // lookup or send failed for this recipient only
)

// Outcome is the per-recipient result of one delivery cycle.
type Outcome struct {
	UserID string
	Status Status
	Err    error
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// DeliveryEvent is emitted on the event bus for notify lifecycle events.
type DeliveryEvent struct {
	UserID  string    `json:"user_id"`
	Channel string    `json:"channel"`
	Thread  string    `json:"thread,omitempty"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
