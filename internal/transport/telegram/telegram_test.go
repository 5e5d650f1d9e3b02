package telegram

import (
	"context"
	"testing"

	"beepbot/internal/chat"
)

func TestPermalink(t *testing.T) {
	c := &Client{}

	link, err := c.Permalink(context.Background(), chat.MessageRef{Channel: "-1001234567890", TS: "42"})
	if err != nil {
		t.Fatalf("permalink: %v", err)
	}
	if link != "https://t.me/c/1234567890/42" {
		t.Fatalf("supergroup link = %q", link)
	}

	link, err = c.Permalink(context.Background(), chat.MessageRef{Channel: "-987654", TS: "7"})
	if err != nil {
		t.Fatalf("permalink: %v", err)
	}
	if link != "tg://chat?id=-987654" {
		t.Fatalf("group fallback = %q", link)
	}
}
