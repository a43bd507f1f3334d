package notify

import (
	"context"
	"log/slog"
)

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Send(ctx context.Context, evt Event) error {
	level := slog.LevelInfo
	if evt.Type == TypeAgentError {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "Auto-response event",
		"event_id", evt.ID,
		"type", evt.Type,
		"run_id", evt.RunID,
		"responder_id", evt.ResponderID,
		"requester_id", evt.RequesterID,
		"reason", evt.DecisionReason,
		"confidence", evt.ConfidenceScore,
		"stage", evt.Stage,
		"message", evt.Message,
	)
	return nil
}
