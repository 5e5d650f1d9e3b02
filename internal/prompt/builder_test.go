package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"beepbot/internal/chat"
)

func snap(texts ...string) []chat.Message {
	msgs := make([]chat.Message, 0, len(texts))
	for i, text := range texts {
		user := "u1"
		if i%2 == 1 {
			user = "u2"
		}
		msgs = append(msgs, chat.Message{Channel: "C1", User: user, Text: text})
	}
	return msgs
}

func TestFreeText(t *testing.T) {
	b := NewBuilder(FreeText, 5000)

	got, ok := b.Build(snap("hi", "hey there"))
	if !ok {
		t.Fatalf("expected ok")
	}
	want := "hi\n\nhey there\n\n###\n\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFreeTextFiltersMarkup(t *testing.T) {
	b := NewBuilder(FreeText, 5000)

	got, ok := b.Build(snap("check <https://x.com|this> out :smile:", ":wave:", "fine"))
	if !ok {
		t.Fatalf("expected ok")
	}
	want := "check  out\n\nfine" + Suffix
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFreeTextAllFiltered(t *testing.T) {
	b := NewBuilder(FreeText, 5000)

	if _, ok := b.Build(snap(":wave:", "```code```")); ok {
		t.Fatalf("expected not ok when every message is filtered")
	}
	if _, ok := b.Build(nil); ok {
		t.Fatalf("expected not ok for empty snapshot")
	}
}

func TestFreeTextTruncation(t *testing.T) {
	b := NewBuilder(FreeText, 10)

	got, ok := b.Build(snap("abcdefghijklmnop"))
	if !ok {
		t.Fatalf("expected ok")
	}
	want := "abcdefghij" + Suffix
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFreeTextTruncationRuneBoundary(t *testing.T) {
	b := NewBuilder(FreeText, 4)

	// 3-byte runes: a byte cutoff at 4 would split the second one.
	got, ok := b.Build(snap("日本語です"))
	if !ok {
		t.Fatalf("expected ok")
	}
	want := "日本語で" + Suffix
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid utf-8: %q", got)
	}
}

func TestStructured(t *testing.T) {
	b := NewBuilder(Structured, 5000)

	got, ok := b.Build(snap("hi", "hey <@U1>"))
	if !ok {
		t.Fatalf("expected ok")
	}
	// Raw text used; no per-message filtering in structured mode.
	want := "start ->  u1 --> hi \n\n u2 --> hey <@U1> " + Suffix
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDeterminism(t *testing.T) {
	for _, strat := range []Strategy{FreeText, Structured} {
		b := NewBuilder(strat, 5000)
		s := snap("one", "two", "three <x> :y:")
		first, ok1 := b.Build(s)
		second, ok2 := b.Build(s)
		if ok1 != ok2 || first != second {
			t.Fatalf("%s: non-deterministic build", strat)
		}
	}
}

func TestSuffixAlwaysPresent(t *testing.T) {
	for _, strat := range []Strategy{FreeText, Structured} {
		b := NewBuilder(strat, 50)
		got, ok := b.Build(snap("hello world"))
		if !ok || !strings.HasSuffix(got, Suffix) {
			t.Fatalf("%s: missing suffix in %q", strat, got)
		}
	}
}
