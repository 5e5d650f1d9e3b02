package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"beepbot/internal/chat"
	"beepbot/internal/eventbus"
	"beepbot/internal/storage"
	logx "beepbot/pkg/logx"
)

const alertFormat = "You may be interested in this conversation: <%s|%s>"

// Service delivers interest alerts. One Deliver call fans out to every
// recipient of a cycle concurrently (bounded by Workers), waits for all
// of them, and returns per-recipient outcomes. A failure for one
// recipient never aborts the others, and nothing is retried or queued
// for replay inside a cycle.
//
// It is safe for concurrent use; cycles for different conversation keys
// overlap freely.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log       logx.Logger
	messenger chat.Messenger
	bus       eventbus.Bus
	store     storage.Store

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// In-memory history of recent alerts (operator visibility)
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, messenger chat.Messenger, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		messenger: messenger,
		log:       log,
		bus:       bus,
		store:     store,
		dedup:     map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.SnippetMaxLen <= 0 {
		cfg.SnippetMaxLen = 200
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Deliver notifies every user in users about the triggering message,
// isolating failures per recipient, and blocks until all attempts
// finished (or ctx was canceled).
func (s *Service) Deliver(ctx context.Context, key chat.ConversationKey, trigger chat.Message, users []string) []Outcome {
	if len(users) == 0 {
		return nil
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	outcomes := make([]Outcome, len(users))
	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup

	for i, user := range users {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = Outcome{UserID: user, Status: StatusFailed, Err: ctx.Err()}
				return
			}
			outcomes[i] = s.deliverOne(ctx, cfg, key, trigger, user)
		}(i, user)
	}
	wg.Wait()
	return outcomes
}

func (s *Service) deliverOne(ctx context.Context, cfg Config, key chat.ConversationKey, trigger chat.Message, user string) Outcome {
	log := s.log.With(logx.String("user", user), logx.String("conversation", key.String()))

	dkey := dedupKey(user, key, trigger)
	if cfg.DedupWindow > 0 && !s.dedupAllow(ctx, dkey, cfg) {
		log.Debug("alert suppressed by dedup window")
		s.publish("notify.deduped", user, key, "")
		return Outcome{UserID: user, Status: StatusDeduped}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Outcome{UserID: user, Status: StatusFailed, Err: err}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	dm, ok, err := s.messenger.OpenDM(callCtx, user)
	if err != nil {
		log.Warn("dm channel lookup failed", logx.Err(err))
		s.publish("notify.failed", user, key, err.Error())
		return Outcome{UserID: user, Status: StatusFailed, Err: err}
	}
	if !ok {
		log.Info("user has no dm channel; skipping")
		s.publish("notify.skipped", user, key, "")
		return Outcome{UserID: user, Status: StatusNoDM}
	}

	link, err := s.messenger.Permalink(callCtx, chat.MessageRef{Channel: trigger.Channel, TS: trigger.TS})
	if err != nil {
		log.Warn("permalink lookup failed", logx.Err(err))
		s.publish("notify.failed", user, key, err.Error())
		return Outcome{UserID: user, Status: StatusFailed, Err: err}
	}

	text := fmt.Sprintf(alertFormat, link, snippet(trigger.Text, cfg.SnippetMaxLen))
	if err := s.messenger.Post(callCtx, dm, text); err != nil {
		log.Warn("alert send failed", logx.Err(err))
		s.publish("notify.failed", user, key, err.Error())
		return Outcome{UserID: user, Status: StatusFailed, Err: err}
	}

	log.Info("alert sent")
	s.appendHistory(text)
	s.publish("notify.sent", user, key, "")
	return Outcome{UserID: user, Status: StatusSent}
}

func (s *Service) publish(typ, user string, key chat.ConversationKey, errStr string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: DeliveryEvent{
		UserID:  user,
		Channel: key.Channel,
		Thread:  key.Thread,
		Key:     key.String(),
		At:      now,
		Error:   errStr,
	}})
}

// Snapshot returns recent alert history.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

// snippet cuts the excerpt to maxLen characters on a rune boundary so a
// multibyte character never arrives split in the alert.
func snippet(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	n := 0
	for i := range text {
		if n == maxLen {
			return text[:i] + "..."
		}
		n++
	}
	return text
}

func dedupKey(user string, key chat.ConversationKey, trigger chat.Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(user))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(key.String()))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trigger.TS))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config) bool {
	now := time.Now()

	// 1) In-memory check.
	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// 2) Persistent check (best-effort) for cross-restart dedup.
	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	// 3) Allow and set new window.
	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until

	// Prune expired and cap.
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > cfg.DedupMaxEntries {
		// Remove the entry with the earliest expiry.
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, u := range s.dedup {
			if !set || u.Before(minT) {
				minKey, minT, set = k, u, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	// 4) Persist the new suppress-until (best-effort).
	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		_ = s.store.PutDedup(cctx, key, until)
		cancel()
	}
	return true
}
