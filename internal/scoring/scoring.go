// Package scoring queries the interest model.
//
// The model is a fine-tune driven as a top-K candidate probability query:
// one generated token, a fixed stop condition, and the top-K token
// logprobs read back as independent per-label probabilities. This is
// deliberately not modeled as free-form generation.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "beepbot/pkg/logx"
)

// Stop is the fixed stop condition the fine-tune was trained with.
const Stop = " end"

const (
	DefaultTopK    = 5
	DefaultTimeout = 30 * time.Second
)

var ErrNoChoices = errors.New("scoring: response carried no choices")

// Scorer returns label -> probability for the top-K next-token
// candidates. Values are in (0, 1] and do not sum to 1; each label is an
// independent Bernoulli signal, not a categorical distribution.
type Scorer interface {
	Score(ctx context.Context, prompt string) (map[string]float64, error)
}

type Config struct {
	Backend string // "openai" | "gemini"
	Model   string
	TopK    int
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// New builds the configured backend. Credentials come from the
// environment (OPENAI_API_KEY, GEMINI_API_KEY).
func New(ctx context.Context, cfg Config, log logx.Logger) (Scorer, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("scoring: model is required")
	}
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "openai":
		return newOpenAI(cfg, log), nil
	case "gemini":
		return newGemini(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("scoring: unknown backend %q", cfg.Backend)
	}
}
