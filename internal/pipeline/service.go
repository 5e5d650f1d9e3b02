package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beepbot/internal/chat"
	"beepbot/internal/eventbus"
	"beepbot/internal/interest"
	"beepbot/internal/notifier"
	"beepbot/internal/prompt"
	"beepbot/internal/runtime/supervisor"
	"beepbot/internal/scoring"
	"beepbot/internal/window"
	logx "beepbot/pkg/logx"
)

// Service is the assembly line: ingest -> window append -> trigger ->
// scoring cycle -> interest decode -> delivery.
//
// Ingest never blocks the caller. Cycles for the same conversation key
// are serialized; different keys score in parallel across Workers. A
// failed scoring call aborts only its own cycle.
type Service struct {
	mu  sync.Mutex
	cfg Config

	windows *window.Store
	builder *prompt.Builder
	scorer  scoring.Scorer
	decoder *interest.Decoder
	notify  Deliverer

	log logx.Logger
	bus eventbus.Bus

	in       chan chat.Message
	triggers chan chat.ConversationKey

	// started marks the processing start: messages stamped earlier (i.e.
	// backfilled history) populate windows but never trigger a cycle.
	started time.Time

	kmu     sync.Mutex
	locks   map[chat.ConversationKey]*keyLock
	pending map[chat.ConversationKey]int
}

// keyLock serializes cycles per conversation key. Entries are
// reference-counted and removed when the last holder releases, so the
// map tracks only keys with a cycle in flight.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func New(cfg Config, windows *window.Store, builder *prompt.Builder, scorer scoring.Scorer, decoder *interest.Decoder, notify Deliverer, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Cadence == "" {
		cfg.Cadence = CadencePerMessage
	}
	if cfg.Direction == "" {
		cfg.Direction = DirectionNewest
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		windows:  windows,
		builder:  builder,
		scorer:   scorer,
		decoder:  decoder,
		notify:   notify,
		log:      log,
		bus:      bus,
		in:       make(chan chat.Message, cfg.QueueSize),
		triggers: make(chan chat.ConversationKey, cfg.QueueSize),
		started:  time.Now(),
		locks:    map[chat.ConversationKey]*keyLock{},
		pending:  map[chat.ConversationKey]int{},
	}
}

// Apply updates the reloadable knobs. Queue sizes and worker counts are
// fixed for the process lifetime.
func (s *Service) Apply(cadence Cadence, direction Direction) {
	s.mu.Lock()
	if cadence != "" {
		s.cfg.Cadence = cadence
	}
	if direction != "" {
		s.cfg.Direction = direction
	}
	s.mu.Unlock()
}

// Start registers the ingest loop and the cycle workers on sup.
func (s *Service) Start(sup *supervisor.Supervisor) {
	sup.GoRestart("pipeline.ingest", s.ingestLoop)
	workers := s.snapshotCfg().Workers
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("pipeline.worker.%d", i), s.workerLoop)
	}
}

// Ingest hands a live message to the pipeline. It never blocks: when
// the queue is full the message is dropped and false is returned.
func (s *Service) Ingest(m chat.Message) bool {
	select {
	case s.in <- m:
		return true
	default:
		s.log.Warn("ingest queue full; dropping message",
			logx.String("channel", m.Channel), logx.String("ts", m.TS))
		s.publishIngest("ingest.dropped", m)
		return false
	}
}

// Seed appends a historical message to its window without ever
// triggering a scoring cycle. Used for backfill before live traffic.
func (s *Service) Seed(m chat.Message) {
	s.windows.Append(chat.KeyOf(m), m)
}

func (s *Service) ingestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.in:
			key := chat.KeyOf(m)
			s.windows.Append(key, m)
			s.publishIngest("ingest.message", m)
			if s.shouldTrigger(key, m) {
				s.enqueue(key)
			}
		}
	}
}

func (s *Service) shouldTrigger(key chat.ConversationKey, m chat.Message) bool {
	if !m.At.IsZero() && m.At.Before(s.started) {
		return false
	}
	cfg := s.snapshotCfg()
	if cfg.Cadence == CadencePerWindow {
		// A full tail buffer stays full, so readiness is decided by how
		// many live messages arrived since the last trigger, not by size
		// alone. One trigger per window's worth of traffic.
		limit := s.windows.Limit()
		s.kmu.Lock()
		s.pending[key]++
		ready := s.pending[key] >= limit && s.windows.Size(key) >= limit
		if ready {
			s.pending[key] = 0
		}
		s.kmu.Unlock()
		return ready
	}
	return true
}

// Compact drops trigger counters for conversations the window store no
// longer tracks. Called after the idle-eviction sweep.
func (s *Service) Compact() {
	s.kmu.Lock()
	for key := range s.pending {
		if s.windows.Size(key) == 0 {
			delete(s.pending, key)
		}
	}
	s.kmu.Unlock()
}

func (s *Service) enqueue(key chat.ConversationKey) {
	select {
	case s.triggers <- key:
	default:
		s.log.Warn("trigger queue full; skipping cycle", logx.String("conversation", key.String()))
	}
}

func (s *Service) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case key := <-s.triggers:
			s.runCycle(ctx, key)
		}
	}
}

func (s *Service) runCycle(ctx context.Context, key chat.ConversationKey) {
	s.lockKey(key)
	defer s.unlockKey(key)

	log := s.log.With(logx.String("conversation", key.String()))

	snapshot := s.windows.Snapshot(key)
	if len(snapshot) == 0 {
		return
	}

	p, ok := s.builder.Build(snapshot)
	if !ok {
		log.Debug("window has no scoreable content; skipping cycle")
		return
	}

	probs, err := s.scorer.Score(ctx, p)
	if err != nil {
		log.Error("scoring failed; cycle aborted", logx.Err(err))
		s.publishCycle("cycle.failed", key, CycleEvent{WindowSize: len(snapshot), Error: err.Error()})
		return
	}

	users := s.decoder.Decode(probs)
	if len(users) == 0 {
		s.publishCycle("cycle.completed", key, CycleEvent{WindowSize: len(snapshot)})
		return
	}

	trigger := snapshot[len(snapshot)-1]
	if s.snapshotCfg().Direction == DirectionOldest {
		trigger = snapshot[0]
	}

	outcomes := s.notify.Deliver(ctx, key, trigger, users)
	sent := 0
	for _, o := range outcomes {
		if o.Status == notifier.StatusSent {
			sent++
		}
	}
	log.Info("cycle completed",
		logx.Int("window_size", len(snapshot)),
		logx.Int("recipients", len(users)),
		logx.Int("sent", sent))
	s.publishCycle("cycle.completed", key, CycleEvent{
		WindowSize: len(snapshot),
		Recipients: len(users),
		Sent:       sent,
	})
}

func (s *Service) snapshotCfg() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) lockKey(key chat.ConversationKey) {
	s.kmu.Lock()
	l := s.locks[key]
	if l == nil {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.kmu.Unlock()
	l.mu.Lock()
}

func (s *Service) unlockKey(key chat.ConversationKey) {
	s.kmu.Lock()
	l := s.locks[key]
	l.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
	s.kmu.Unlock()
}

func (s *Service) publishIngest(typ string, m chat.Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: map[string]string{
		"channel": m.Channel,
		"thread":  m.Thread,
		"user":    m.User,
		"ts":      m.TS,
	}})
}

func (s *Service) publishCycle(typ string, key chat.ConversationKey, ev CycleEvent) {
	if s.bus == nil {
		return
	}
	ev.Key = key.String()
	ev.At = time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
