package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"beepbot/internal/chat"
	logx "beepbot/pkg/logx"
)

type fakeMessenger struct {
	mu       sync.Mutex
	noDM     map[string]bool
	failOpen map[string]error
	failPost map[string]error
	posted   map[string][]string // dm channel -> texts
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		noDM:     map[string]bool{},
		failOpen: map[string]error{},
		failPost: map[string]error{},
		posted:   map[string][]string{},
	}
}

func (f *fakeMessenger) OpenDM(ctx context.Context, userID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOpen[userID]; err != nil {
		return "", false, err
	}
	if f.noDM[userID] {
		return "", false, nil
	}
	return "dm-" + userID, true, nil
}

func (f *fakeMessenger) Permalink(ctx context.Context, ref chat.MessageRef) (string, error) {
	return "https://example.test/" + ref.Channel + "/" + ref.TS, nil
}

func (f *fakeMessenger) Post(ctx context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPost[channelID]; err != nil {
		return err
	}
	f.posted[channelID] = append(f.posted[channelID], text)
	return nil
}

func (f *fakeMessenger) sentTo(channelID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted[channelID]...)
}

func testTrigger() (chat.ConversationKey, chat.Message) {
	m := chat.Message{
		ID:      "m1",
		Channel: "C1",
		TS:      "1700000000.000100",
		User:    "U9",
		Text:    "deploy is broken again",
		At:      time.Now(),
	}
	return chat.KeyOf(m), m
}

func TestDeliverSendsToAllRecipients(t *testing.T) {
	fm := newFakeMessenger()
	svc := New(Config{Workers: 2, RatePerSec: 100}, fm, logx.Nop(), nil, nil)

	key, trig := testTrigger()
	out := svc.Deliver(context.Background(), key, trig, []string{"U1", "U2", "U3"})
	if len(out) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(out))
	}
	for _, o := range out {
		if o.Status != StatusSent {
			t.Fatalf("user %s: status = %s, want sent (err=%v)", o.UserID, o.Status, o.Err)
		}
	}
	for _, u := range []string{"U1", "U2", "U3"} {
		msgs := fm.sentTo("dm-" + u)
		if len(msgs) != 1 {
			t.Fatalf("dm-%s: %d messages, want 1", u, len(msgs))
		}
		if !strings.HasPrefix(msgs[0], "You may be interested in this conversation: ") {
			t.Fatalf("unexpected alert text: %q", msgs[0])
		}
		if !strings.Contains(msgs[0], "https://example.test/C1/") {
			t.Fatalf("alert missing permalink: %q", msgs[0])
		}
	}
}

func TestDeliverIsolatesFailures(t *testing.T) {
	fm := newFakeMessenger()
	fm.failOpen["U1"] = errors.New("rate limited")
	fm.failPost["dm-U2"] = errors.New("channel archived")
	svc := New(Config{Workers: 1, RatePerSec: 100}, fm, logx.Nop(), nil, nil)

	key, trig := testTrigger()
	out := svc.Deliver(context.Background(), key, trig, []string{"U1", "U2", "U3"})

	byUser := map[string]Outcome{}
	for _, o := range out {
		byUser[o.UserID] = o
	}
	if byUser["U1"].Status != StatusFailed || byUser["U1"].Err == nil {
		t.Fatalf("U1 = %+v, want failed with error", byUser["U1"])
	}
	if byUser["U2"].Status != StatusFailed {
		t.Fatalf("U2 = %+v, want failed", byUser["U2"])
	}
	if byUser["U3"].Status != StatusSent {
		t.Fatalf("U3 = %+v, want sent despite other failures", byUser["U3"])
	}
	if got := fm.sentTo("dm-U3"); len(got) != 1 {
		t.Fatalf("U3 should still receive its alert, got %d", len(got))
	}
}

func TestDeliverSkipsUsersWithoutDM(t *testing.T) {
	fm := newFakeMessenger()
	fm.noDM["U1"] = true
	svc := New(Config{Workers: 2, RatePerSec: 100}, fm, logx.Nop(), nil, nil)

	key, trig := testTrigger()
	out := svc.Deliver(context.Background(), key, trig, []string{"U1"})
	if out[0].Status != StatusNoDM {
		t.Fatalf("status = %s, want no_dm", out[0].Status)
	}
	if out[0].Err != nil {
		t.Fatalf("no-dm skip should not carry an error, got %v", out[0].Err)
	}
}

func TestDeliverDedupWindow(t *testing.T) {
	fm := newFakeMessenger()
	svc := New(Config{Workers: 2, RatePerSec: 100, DedupWindow: time.Minute}, fm, logx.Nop(), nil, nil)

	key, trig := testTrigger()
	first := svc.Deliver(context.Background(), key, trig, []string{"U1"})
	if first[0].Status != StatusSent {
		t.Fatalf("first delivery: %+v", first[0])
	}
	second := svc.Deliver(context.Background(), key, trig, []string{"U1"})
	if second[0].Status != StatusDeduped {
		t.Fatalf("second delivery = %s, want deduped", second[0].Status)
	}
	if got := fm.sentTo("dm-U1"); len(got) != 1 {
		t.Fatalf("dedup should allow exactly one send, got %d", len(got))
	}

	// A different trigger in the same conversation is a new alert.
	trig2 := trig
	trig2.TS = "1700000002.000200"
	third := svc.Deliver(context.Background(), key, trig2, []string{"U1"})
	if third[0].Status != StatusSent {
		t.Fatalf("new trigger = %s, want sent", third[0].Status)
	}
}

func TestSnippetTruncation(t *testing.T) {
	fm := newFakeMessenger()
	svc := New(Config{Workers: 1, RatePerSec: 100, SnippetMaxLen: 10}, fm, logx.Nop(), nil, nil)

	key, trig := testTrigger()
	trig.Text = "0123456789abcdef"
	out := svc.Deliver(context.Background(), key, trig, []string{"U1"})
	if out[0].Status != StatusSent {
		t.Fatalf("delivery: %+v", out[0])
	}
	got := fm.sentTo("dm-U1")[0]
	if !strings.Contains(got, "|0123456789...>") {
		t.Fatalf("snippet not truncated: %q", got)
	}
}

func TestSnippetTruncationRuneBoundary(t *testing.T) {
	fm := newFakeMessenger()
	svc := New(Config{Workers: 1, RatePerSec: 100, SnippetMaxLen: 3}, fm, logx.Nop(), nil, nil)

	key, trig := testTrigger()
	trig.Text = "привет мир"
	out := svc.Deliver(context.Background(), key, trig, []string{"U1"})
	if out[0].Status != StatusSent {
		t.Fatalf("delivery: %+v", out[0])
	}
	got := fm.sentTo("dm-U1")[0]
	if !strings.Contains(got, "|при...>") {
		t.Fatalf("snippet should cut after 3 characters: %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("alert text is invalid utf-8: %q", got)
	}
}
