// Package slack binds the pipeline to a Slack workspace: a Socket Mode
// event source for live messages and a Web API messenger for alerts.
//
// Credentials come from the environment: SLACK_BOT_TOKEN (xoxb-) and
// SLACK_APP_TOKEN (xapp-, Socket Mode).
package slack

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"beepbot/internal/chat"
	logx "beepbot/pkg/logx"
)

type Config struct {
	Debug bool
}

// Source streams workspace messages over Socket Mode. Events are acked
// before any local processing so Slack never retries on our account.
type Source struct {
	api  *slack.Client
	sock *socketmode.Client
	log  logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSource(cfg Config, log logx.Logger) (*Source, error) {
	botToken := os.Getenv("SLACK_BOT_TOKEN")
	appToken := os.Getenv("SLACK_APP_TOKEN")
	if botToken == "" {
		return nil, errors.New("slack: SLACK_BOT_TOKEN is not set")
	}
	if appToken == "" {
		return nil, errors.New("slack: SLACK_APP_TOKEN is not set")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	api := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
		slack.OptionDebug(cfg.Debug),
	)
	return &Source{
		api:  api,
		sock: socketmode.New(api, socketmode.OptionDebug(cfg.Debug)),
		log:  log,
	}, nil
}

// Start launches the Socket Mode connection and the event pump. It
// returns once both are running; messages arrive on out until Stop or
// ctx cancellation.
func (s *Source) Start(ctx context.Context, out chan<- chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("slack: source already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		if err := s.sock.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			s.log.Error("socket mode connection ended", logx.Err(err))
		}
	}()
	go s.pump(runCtx, out)
	return nil
}

func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) pump(ctx context.Context, out chan<- chat.Message) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.sock.Events:
			if !ok {
				return
			}
			s.handle(evt, out)
		}
	}
}

func (s *Source) handle(evt socketmode.Event, out chan<- chat.Message) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		s.log.Info("socket mode connected")
	case socketmode.EventTypeConnectionError:
		s.log.Warn("socket mode connection error")
	case socketmode.EventTypeEventsAPI:
		// Ack first; Slack retries unacked envelopes.
		if evt.Request != nil {
			s.sock.Ack(*evt.Request)
		}
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		s.handleEventsAPI(apiEvent, out)
	}
}

func (s *Source) handleEventsAPI(evt slackevents.EventsAPIEvent, out chan<- chat.Message) {
	if evt.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := evt.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Only plain user messages: edits, joins, bot posts etc. carry a
	// subtype or bot id and never feed the windows.
	if ev.SubType != "" || ev.BotID != "" || ev.Text == "" {
		return
	}

	m := chat.Message{
		Channel: ev.Channel,
		Thread:  ev.ThreadTimeStamp,
		User:    ev.User,
		Text:    ev.Text,
		TS:      ev.TimeStamp,
		At:      time.Now(),
	}
	select {
	case out <- m:
	default:
		s.log.Warn("message channel full; dropping event",
			logx.String("channel", m.Channel), logx.String("ts", m.TS))
	}
}
