package notify

import (
	"context"
	"log/slog"
	"taskmarket/lib/sl"
)

// LogSender writes the payload to the log instead of delivering it.
// Used for channels that are not configured in env=local.
type LogSender struct {
	channel string
	log     *slog.Logger
}

func NewLogSender(channel string, log *slog.Logger) *LogSender {
	return &LogSender{
		channel: channel,
		log:     log.With(sl.Module("notify.log")),
	}
}

func (l *LogSender) Send(_ context.Context, destination, payload string) error {
	l.log.With(
		slog.String("channel", l.channel),
		slog.String("to", destination),
	).Info(payload)
	return nil
}
