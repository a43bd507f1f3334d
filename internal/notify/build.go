package notify

import (
	"log/slog"

	"github.com/xandylearning/zulip-sub000/internal/config"
)

// FromConfig builds a dispatcher with the log sink plus every enabled sink.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) (*Dispatcher, error) {
	d := NewDispatcher(DefaultSinkTimeout)
	if err := d.Register(NewLogSink(logger)); err != nil {
		return nil, err
	}

	if cfg.Audit.Enabled {
		audit, err := NewAuditSink(cfg.Audit.Path, cfg.Audit.RedactPatterns)
		if err != nil {
			return nil, err
		}
		if err := d.Register(audit); err != nil {
			return nil, err
		}
	}
	if cfg.Slack.Enabled {
		if err := d.Register(NewSlackSink(cfg.Slack.BotToken, cfg.Slack.Channel)); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.Enabled {
		if err := d.Register(NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID)); err != nil {
			return nil, err
		}
	}
	return d, nil
}
