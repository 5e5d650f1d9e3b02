// Package interest decodes per-label probability responses into the set
// of users cleared for notification.
package interest

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	logx "beepbot/pkg/logx"
)

// DefaultSentinel is the reserved label meaning "no one is interested".
const DefaultSentinel = "nil"

type LabelMode string

const (
	// ModeIndex treats labels as integer indexes into the catalog.
	ModeIndex LabelMode = "index"
	// ModeDirect treats the trimmed label token as the user id itself.
	ModeDirect LabelMode = "direct"
)

type Config struct {
	Threshold float64
	Mode      LabelMode
	Sentinel  string
}

// Decoder turns a scoring response into a duplicate-free user set.
// Threshold is reloadable; catalog and mode are fixed at startup.
type Decoder struct {
	mu  sync.RWMutex
	cfg Config

	catalog *Catalog
	log     logx.Logger
}

func NewDecoder(cfg Config, catalog *Catalog, log logx.Logger) *Decoder {
	if cfg.Sentinel == "" {
		cfg.Sentinel = DefaultSentinel
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeIndex
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Decoder{cfg: cfg, catalog: catalog, log: log}
}

// Apply swaps the reloadable part of the config (threshold).
func (d *Decoder) Apply(threshold float64) {
	d.mu.Lock()
	d.cfg.Threshold = threshold
	d.mu.Unlock()
}

func (d *Decoder) Threshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.Threshold
}

// Decode returns the user ids whose probability strictly exceeds the
// threshold, sentinel excluded, deduplicated and sorted. An unparseable
// label is a decode failure for that label only; the rest of the
// response still decodes.
func (d *Decoder) Decode(probs map[string]float64) []string {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	seen := map[string]struct{}{}
	for label, p := range probs {
		if p <= cfg.Threshold {
			continue
		}
		token := strings.TrimSpace(label)
		if token == cfg.Sentinel {
			continue
		}

		var (
			user string
			ok   bool
		)
		switch cfg.Mode {
		case ModeDirect:
			user, ok = token, token != ""
		default:
			idx, err := strconv.Atoi(token)
			if err != nil {
				d.log.Debug("unparseable label skipped", logx.String("label", label))
				continue
			}
			user, ok = d.catalog.Lookup(idx)
			if !ok {
				d.log.Debug("label outside catalog skipped", logx.Int("index", idx))
			}
		}
		if ok {
			seen[user] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for user := range seen {
		out = append(out, user)
	}
	sort.Strings(out)
	return out
}
