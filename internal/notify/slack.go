package notify

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/xandylearning/zulip-sub000/internal/errors"
)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSink posts event summaries to one channel.
type SlackSink struct {
	client  slackPoster
	channel string
}

func NewSlackSink(botToken, channel string) *SlackSink {
	return newSlackSink(slack.New(botToken), channel)
}

func newSlackSink(client slackPoster, channel string) *SlackSink {
	return &SlackSink{client: client, channel: channel}
}

func (s *SlackSink) Name() string {
	return "slack"
}

func (s *SlackSink) Send(ctx context.Context, evt Event) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(evt.Summary(), false))
	if err != nil {
		return errors.Wrap(err, "failed to send Slack message")
	}
	slog.Debug("Slack notification sent", "channel", s.channel, "event_id", evt.ID)
	return nil
}
