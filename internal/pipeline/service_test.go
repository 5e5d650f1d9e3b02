package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beepbot/internal/chat"
	"beepbot/internal/interest"
	"beepbot/internal/notifier"
	"beepbot/internal/prompt"
	"beepbot/internal/window"
	logx "beepbot/pkg/logx"
)

type fakeScorer struct {
	mu    sync.Mutex
	probs map[string]float64
	err   error
	calls int
}

func (f *fakeScorer) Score(ctx context.Context, p string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.probs, nil
}

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type delivery struct {
	key     chat.ConversationKey
	trigger chat.Message
	users   []string
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []delivery
}

func (f *fakeDeliverer) Deliver(ctx context.Context, key chat.ConversationKey, trigger chat.Message, users []string) []notifier.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, delivery{key: key, trigger: trigger, users: users})
	out := make([]notifier.Outcome, len(users))
	for i, u := range users {
		out[i] = notifier.Outcome{UserID: u, Status: notifier.StatusSent}
	}
	return out
}

func (f *fakeDeliverer) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.calls...)
}

func newTestService(t *testing.T, cfg Config, scorer *fakeScorer) (*Service, *fakeDeliverer) {
	t.Helper()
	catalog := interest.NewCatalog([]string{"U00", "U01", "U02", "U03", "U04", "U05", "U06", "U07", "U08", "U09"})
	dec := interest.NewDecoder(interest.Config{Threshold: 0.5, Mode: interest.ModeIndex}, catalog, logx.Nop())
	fd := &fakeDeliverer{}
	svc := New(cfg,
		window.NewStore(20),
		prompt.NewBuilder(prompt.FreeText, 0),
		scorer, dec, fd, logx.Nop(), nil)
	return svc, fd
}

func liveMessage(channel, user, ts, text string) chat.Message {
	return chat.Message{Channel: channel, User: user, TS: ts, Text: text, At: time.Now().Add(time.Second)}
}

func TestCycleDecodesAndDelivers(t *testing.T) {
	scorer := &fakeScorer{probs: map[string]float64{"5": 0.62, "9": 0.10, "nil": 0.20}}
	svc, fd := newTestService(t, Config{}, scorer)

	m := liveMessage("C1", "alice", "1.001", "the deploy keeps failing")
	key := chat.KeyOf(m)
	svc.windows.Append(key, m)
	svc.runCycle(context.Background(), key)

	got := fd.deliveries()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if len(got[0].users) != 1 || got[0].users[0] != "U05" {
		t.Fatalf("recipients = %v, want [U05]", got[0].users)
	}
	if got[0].trigger.TS != "1.001" {
		t.Fatalf("trigger ts = %q", got[0].trigger.TS)
	}
}

func TestCycleNoRecipientsSkipsDelivery(t *testing.T) {
	scorer := &fakeScorer{probs: map[string]float64{"nil": 0.95, "5": 0.04}}
	svc, fd := newTestService(t, Config{}, scorer)

	m := liveMessage("C1", "alice", "1.001", "lunch anyone?")
	key := chat.KeyOf(m)
	svc.windows.Append(key, m)
	svc.runCycle(context.Background(), key)

	if len(fd.deliveries()) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(fd.deliveries()))
	}
}

func TestScoringFailureAbortsOnlyItsCycle(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("upstream 500")}
	svc, fd := newTestService(t, Config{}, scorer)

	m := liveMessage("C1", "alice", "1.001", "is prod down")
	key := chat.KeyOf(m)
	svc.windows.Append(key, m)
	svc.runCycle(context.Background(), key)

	if len(fd.deliveries()) != 0 {
		t.Fatalf("failed cycle should not deliver")
	}
	if svc.windows.Size(key) != 1 {
		t.Fatalf("failed cycle must leave the window intact")
	}

	// Pipeline recovers on the next cycle.
	scorer.mu.Lock()
	scorer.err = nil
	scorer.probs = map[string]float64{"2": 0.80}
	scorer.mu.Unlock()
	svc.runCycle(context.Background(), key)
	if got := fd.deliveries(); len(got) != 1 || got[0].users[0] != "U02" {
		t.Fatalf("recovery cycle = %+v", got)
	}
}

func TestBackfillNeverTriggers(t *testing.T) {
	scorer := &fakeScorer{probs: map[string]float64{"1": 0.9}}
	svc, _ := newTestService(t, Config{}, scorer)

	old := chat.Message{Channel: "C1", User: "bob", TS: "0.900", Text: "historic",
		At: svc.started.Add(-time.Hour)}
	key := chat.KeyOf(old)
	svc.Seed(old)
	if svc.windows.Size(key) != 1 {
		t.Fatalf("seed should populate the window")
	}
	if svc.shouldTrigger(key, old) {
		t.Fatalf("message older than processing start must not trigger a cycle")
	}

	live := liveMessage("C1", "bob", "1.001", "still broken")
	if !svc.shouldTrigger(key, live) {
		t.Fatalf("live message should trigger")
	}
}

func TestPerWindowCadenceWaitsForFullWindow(t *testing.T) {
	scorer := &fakeScorer{probs: map[string]float64{"1": 0.9}}
	svc, _ := newTestService(t, Config{Cadence: CadencePerWindow}, scorer)

	key := chat.ConversationKey{Channel: "C1"}
	for i := 0; i < 19; i++ {
		m := liveMessage("C1", "u", "1", "x")
		svc.windows.Append(key, m)
		if svc.shouldTrigger(key, m) {
			t.Fatalf("triggered at size %d before window was full", i+1)
		}
	}
	m := liveMessage("C1", "u", "1", "x")
	svc.windows.Append(key, m)
	if !svc.shouldTrigger(key, m) {
		t.Fatalf("full window should trigger under per_window cadence")
	}

	// The tail buffer stays full from here on; only another window's
	// worth of fresh messages may trigger again.
	for i := 0; i < 19; i++ {
		m := liveMessage("C1", "u", "2", "y")
		svc.windows.Append(key, m)
		if svc.shouldTrigger(key, m) {
			t.Fatalf("re-triggered after only %d fresh messages", i+1)
		}
	}
	m = liveMessage("C1", "u", "3", "z")
	svc.windows.Append(key, m)
	if !svc.shouldTrigger(key, m) {
		t.Fatalf("a full window's worth of fresh messages should trigger again")
	}
}

func TestKeyLocksFreedAfterCycle(t *testing.T) {
	scorer := &fakeScorer{probs: map[string]float64{"3": 0.7}}
	svc, _ := newTestService(t, Config{}, scorer)

	for i := 0; i < 5; i++ {
		m := liveMessage("C"+string(rune('0'+i)), "a", "1.000", "hello there")
		key := chat.KeyOf(m)
		svc.windows.Append(key, m)
		svc.runCycle(context.Background(), key)
	}

	svc.kmu.Lock()
	n := len(svc.locks)
	svc.kmu.Unlock()
	if n != 0 {
		t.Fatalf("lock map holds %d entries after all cycles finished, want 0", n)
	}
}

func TestCompactDropsCountersForEvictedKeys(t *testing.T) {
	scorer := &fakeScorer{probs: map[string]float64{"1": 0.9}}
	svc, _ := newTestService(t, Config{Cadence: CadencePerWindow}, scorer)

	m := liveMessage("C1", "u", "1", "x")
	key := chat.KeyOf(m)
	svc.windows.Append(key, m)
	svc.shouldTrigger(key, m)

	svc.kmu.Lock()
	if svc.pending[key] != 1 {
		svc.kmu.Unlock()
		t.Fatalf("expected a pending counter for the key")
	}
	svc.kmu.Unlock()

	time.Sleep(5 * time.Millisecond)
	if n := svc.windows.EvictIdle(time.Nanosecond); n != 1 {
		t.Fatalf("eviction removed %d keys, want 1", n)
	}
	svc.Compact()

	svc.kmu.Lock()
	_, ok := svc.pending[key]
	svc.kmu.Unlock()
	if ok {
		t.Fatalf("pending counter survived compaction of an evicted key")
	}
}

func TestDirectionOldestPicksFirstMessage(t *testing.T) {
	scorer := &fakeScorer{probs: map[string]float64{"3": 0.7}}
	svc, fd := newTestService(t, Config{Direction: DirectionOldest}, scorer)

	key := chat.ConversationKey{Channel: "C1"}
	svc.windows.Append(key, liveMessage("C1", "a", "1.000", "first"))
	svc.windows.Append(key, liveMessage("C1", "b", "2.000", "second"))
	svc.runCycle(context.Background(), key)

	got := fd.deliveries()
	if len(got) != 1 || got[0].trigger.TS != "1.000" {
		t.Fatalf("oldest direction should pick the first message, got %+v", got)
	}
	if svc.windows.Size(key) != 2 {
		t.Fatalf("cycle must not remove messages from the store")
	}
}

func TestIngestNeverBlocks(t *testing.T) {
	scorer := &fakeScorer{probs: map[string]float64{"1": 0.9}}
	svc, _ := newTestService(t, Config{QueueSize: 2}, scorer)

	// No loops running: the third send must be dropped, not block.
	if !svc.Ingest(liveMessage("C1", "a", "1", "x")) {
		t.Fatalf("first ingest should be accepted")
	}
	if !svc.Ingest(liveMessage("C1", "a", "2", "x")) {
		t.Fatalf("second ingest should be accepted")
	}
	done := make(chan bool, 1)
	go func() { done <- svc.Ingest(liveMessage("C1", "a", "3", "x")) }()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("full queue should drop the message")
		}
	case <-time.After(time.Second):
		t.Fatalf("Ingest blocked on a full queue")
	}
}

func TestApplyUpdatesCadenceAndDirection(t *testing.T) {
	scorer := &fakeScorer{}
	svc, _ := newTestService(t, Config{}, scorer)

	svc.Apply(CadencePerWindow, DirectionOldest)
	cfg := svc.snapshotCfg()
	if cfg.Cadence != CadencePerWindow || cfg.Direction != DirectionOldest {
		t.Fatalf("apply did not take: %+v", cfg)
	}

	// Empty values leave the current setting alone.
	svc.Apply("", "")
	cfg = svc.snapshotCfg()
	if cfg.Cadence != CadencePerWindow || cfg.Direction != DirectionOldest {
		t.Fatalf("empty apply should be a no-op: %+v", cfg)
	}
}
