// Package telegram binds the pipeline to Telegram: long-poll message
// source plus an outbound messenger for alerts. Group chats map to
// conversation keys by chat id; recipients are numeric user ids.
//
// The bot token comes from TELEGRAM_BOT_TOKEN.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"beepbot/internal/chat"
	logx "beepbot/pkg/logx"
)

type Config struct {
	// PollTimeout for the long poller; default 10s.
	PollTimeout time.Duration
}

type Client struct {
	bot *tele.Bot
	log logx.Logger

	mu      sync.Mutex
	started bool
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, errors.New("telegram: TELEGRAM_BOT_TOKEN is not set")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return &Client{bot: bot, log: log}, nil
}

// Start wires text messages from group chats into out and launches the
// long poller. Non-text updates are ignored.
func (c *Client) Start(ctx context.Context, out chan<- chat.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("telegram: source already started")
	}
	c.started = true

	c.bot.Handle(tele.OnText, func(tc tele.Context) error {
		msg := tc.Message()
		if msg == nil || msg.Sender == nil || msg.Text == "" {
			return nil
		}
		m := chat.Message{
			Channel: strconv.FormatInt(msg.Chat.ID, 10),
			User:    strconv.FormatInt(msg.Sender.ID, 10),
			Text:    msg.Text,
			TS:      strconv.Itoa(msg.ID),
			At:      time.Now(),
		}
		if msg.ReplyTo != nil {
			m.Thread = strconv.Itoa(msg.ReplyTo.ID)
		}
		select {
		case out <- m:
		default:
			c.log.Warn("message channel full; dropping update",
				logx.String("channel", m.Channel), logx.String("ts", m.TS))
		}
		return nil
	})

	go c.bot.Start()
	c.log.Info("telegram poller started", logx.String("bot", c.bot.Me.Username))
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	c.bot.Stop()
	return nil
}

// OpenDM resolves the private chat for a user id. A user who never
// started the bot cannot be messaged; that surfaces as ok=false.
func (c *Client) OpenDM(ctx context.Context, userID string) (string, bool, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", false, fmt.Errorf("telegram: user id %q: %w", userID, err)
	}
	ch, err := c.bot.ChatByID(id)
	if err != nil {
		if errors.Is(err, tele.ErrChatNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return strconv.FormatInt(ch.ID, 10), true, nil
}

// Permalink builds a t.me deep link. Only supergroup messages have
// stable links; plain groups fall back to a chat-id reference.
func (c *Client) Permalink(ctx context.Context, ref chat.MessageRef) (string, error) {
	if internal, ok := strings.CutPrefix(ref.Channel, "-100"); ok {
		return "https://t.me/c/" + internal + "/" + ref.TS, nil
	}
	return "tg://chat?id=" + ref.Channel, nil
}

func (c *Client) Post(ctx context.Context, channelID, text string) error {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: chat id %q: %w", channelID, err)
	}
	_, err = c.bot.Send(tele.ChatID(id), text, tele.NoPreview)
	return err
}
