package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"taskmarket/bot"
	"taskmarket/entity"
	"taskmarket/lib/sl"
)

// Notifier receives formatted records; implemented by bot.TgBot.
type Notifier interface {
	SendMessageWithTopic(msg string, level slog.Level, topic string)
}

// TelegramHandler is a slog.Handler that forwards records to Telegram admins.
// Records at minLevel and above are always forwarded; info and warn records
// are forwarded when they carry a topic.
type TelegramHandler struct {
	handler  slog.Handler
	notifier Notifier
	minLevel slog.Level
	mu       *sync.Mutex
	attrs    []slog.Attr
	group    string
}

func NewTelegramHandler(handler slog.Handler, notifier Notifier, minLevel slog.Level) *TelegramHandler {
	return &TelegramHandler{
		handler:  handler,
		notifier: notifier,
		minLevel: minLevel,
		mu:       &sync.Mutex{},
		attrs:    make([]slog.Attr, 0),
	}
}

func (h *TelegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *TelegramHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.handler.Handle(ctx, record)
	if err != nil {
		return err
	}
	if h.notifier == nil {
		return nil
	}

	topic := ""
	var lines []string
	collect := func(attr slog.Attr) {
		if attr.Key == sl.TopicKey {
			topic = attr.Value.String()
			return
		}
		if attr.Key == "error" {
			lines = append(lines, fmt.Sprintf("%s: ```error %v ```", attr.Key, attr.Value))
			return
		}
		lines = append(lines, bot.Sanitize(fmt.Sprintf("%s: %v", attr.Key, attr.Value)))
	}
	for _, attr := range h.attrs {
		collect(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		collect(attr)
		return true
	})

	if record.Level < h.minLevel && (topic == "" || record.Level < slog.LevelInfo) {
		return nil
	}
	if topic == "" {
		topic = defaultTopic(record.Level)
	}

	var msg string
	if h.group != "" {
		msg = fmt.Sprintf("*%s* `%s.%s`", record.Level.String(), h.group, record.Message)
	} else {
		msg = fmt.Sprintf("*%s* `%s`", record.Level.String(), record.Message)
	}
	if len(lines) > 0 {
		msg += "\n" + strings.Join(lines, "\n")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifier.SendMessageWithTopic(msg, record.Level, topic)
	return nil
}

func (h *TelegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &TelegramHandler{
		handler:  h.handler.WithAttrs(attrs),
		notifier: h.notifier,
		minLevel: h.minLevel,
		mu:       h.mu,
		attrs:    newAttrs,
		group:    h.group,
	}
}

func (h *TelegramHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}

	return &TelegramHandler{
		handler:  h.handler.WithGroup(name),
		notifier: h.notifier,
		minLevel: h.minLevel,
		mu:       h.mu,
		attrs:    h.attrs,
		group:    group,
	}
}

func defaultTopic(level slog.Level) string {
	if level >= slog.LevelError {
		return entity.TopicError
	}
	return entity.TopicSystem
}
