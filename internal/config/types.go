package config

// Config is the whole configuration tree. Files may be JSON or YAML;
// both are decoded strictly (unknown fields are rejected).
//
// Credentials (Slack/Telegram/model API tokens) deliberately never live
// here; they come from the environment.
type Config struct {
	// Platform selects the messaging collaborator used for notification
	// delivery: "slack" (default) or "telegram".
	Platform string `json:"platform,omitempty"`

	Slack    SlackConfig    `json:"slack,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`

	Window   WindowConfig   `json:"window"`
	Prompt   PromptConfig   `json:"prompt"`
	Scoring  ScoringConfig  `json:"scoring"`
	Interest InterestConfig `json:"interest"`
	Pipeline PipelineConfig `json:"pipeline"`
	Notifier NotifierConfig `json:"notifier"`

	Backfill BackfillConfig `json:"backfill,omitempty"`
	Ingress  IngressConfig  `json:"ingress,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`

	Logging LoggingConfig `json:"logging"`
}

type SlackConfig struct {
	Debug bool `json:"debug,omitempty"`
}

type TelegramConfig struct {
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// WindowConfig bounds the per-conversation message buffers.
type WindowConfig struct {
	// Size is the maximum number of messages kept per conversation key.
	Size int `json:"size"`

	// IdleTTL is a Go duration string; conversation keys with no appends
	// for longer than this are evicted by the sweep job. "0s" disables
	// eviction (the key space then grows with active channels/threads).
	IdleTTL string `json:"idle_ttl,omitempty"`

	// EvictEvery is a cron spec for the eviction sweep (robfig/cron syntax,
	// e.g. "@every 10m").
	EvictEvery string `json:"evict_every,omitempty"`
}

type PromptConfig struct {
	// Strategy is "freetext" (normalize + concatenate) or "structured"
	// (per-turn "<author> --> <text>" encoding).
	Strategy string `json:"strategy"`
	MaxLen   int    `json:"max_len,omitempty"`
}

type ScoringConfig struct {
	// Backend is "openai" or "gemini".
	Backend string `json:"backend"`
	// Model is the fine-tuned model to query. Required.
	Model string `json:"model"`
	// TopK is the number of candidate labels requested per query.
	TopK int `json:"top_k,omitempty"`
	// Timeout is a Go duration string bounding one scoring call.
	Timeout string `json:"timeout,omitempty"`
}

type InterestConfig struct {
	// Threshold is the minimum probability (strict) for a candidate to be
	// notified. Deployment parameter, not a universal constant.
	Threshold float64 `json:"threshold"`
	// LabelMode is "index" (labels index into the catalog array) or
	// "direct" (the label token is the user id itself).
	LabelMode string `json:"label_mode,omitempty"`
	// CatalogPath points at a JSON array of user ids; required in index mode.
	CatalogPath string `json:"catalog_path,omitempty"`
	// Sentinel is the reserved "no one interested" label.
	Sentinel string `json:"sentinel,omitempty"`
}

type PipelineConfig struct {
	// Cadence is "per_message" (score on every arrival) or "per_window"
	// (score only when the window is full).
	Cadence string `json:"cadence,omitempty"`
	// Direction picks the triggering message for notification context:
	// "newest" or "oldest".
	Direction string `json:"direction,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Workers   int    `json:"workers,omitempty"`
}

// NotifierConfig controls per-recipient delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Workers         int    `json:"workers,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	SnippetMaxLen   int    `json:"snippet_max_len,omitempty"`
}

type BackfillConfig struct {
	// Path to a Parquet file of historical messages; empty disables backfill.
	Path string `json:"path,omitempty"`
}

type IngressConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"
}

// StorageConfig controls the optional persistence layer backing the
// notifier's cross-restart dedup. Omit the section to keep everything
// in memory.
type StorageConfig struct {
	Driver      string `json:"driver"` // "file" | "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}
