package slack

import (
	"context"
	"errors"
	"os"

	"github.com/slack-go/slack"

	"beepbot/internal/chat"
	logx "beepbot/pkg/logx"
)

// Messenger sends alerts over the Web API using the bot token.
type Messenger struct {
	api *slack.Client
	log logx.Logger
}

func NewMessenger(cfg Config, log logx.Logger) (*Messenger, error) {
	botToken := os.Getenv("SLACK_BOT_TOKEN")
	if botToken == "" {
		return nil, errors.New("slack: SLACK_BOT_TOKEN is not set")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Messenger{api: slack.New(botToken, slack.OptionDebug(cfg.Debug)), log: log}, nil
}

// OpenDM returns the user's IM channel. A user with no open IM with the
// bot yields ok=false, which the caller treats as a skip.
func (m *Messenger) OpenDM(ctx context.Context, userID string) (string, bool, error) {
	channels, _, err := m.api.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
		UserID: userID,
		Types:  []string{"im"},
		Limit:  1,
	})
	if err != nil {
		return "", false, err
	}
	if len(channels) == 0 {
		return "", false, nil
	}
	return channels[0].ID, true, nil
}

func (m *Messenger) Permalink(ctx context.Context, ref chat.MessageRef) (string, error) {
	return m.api.GetPermalinkContext(ctx, &slack.PermalinkParameters{
		Channel: ref.Channel,
		Ts:      ref.TS,
	})
}

func (m *Messenger) Post(ctx context.Context, channelID, text string) error {
	_, _, err := m.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	return err
}
