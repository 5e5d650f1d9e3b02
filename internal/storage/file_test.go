package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "beepbot/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "store")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(context.Background(), "k1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	got, ok, err := st.GetDedup(context.Background(), "k1")
	if err != nil || !ok {
		t.Fatalf("GetDedup: (%v, %v, %v)", got, ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: journal replay restores the mark.
	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	_, ok, err = st2.GetDedup(context.Background(), "k1")
	if err != nil || !ok {
		t.Fatalf("mark lost across reopen: (%v, %v)", ok, err)
	}
}

func TestFileStoreExpiredPrunedOnOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "store")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.PutDedup(context.Background(), "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	_ = st.Close()

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	if _, ok, _ := st2.GetDedup(context.Background(), "old"); ok {
		t.Fatalf("expired mark survived reopen")
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled open = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
