package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"taskmarket/entity"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

const maxMessageLength = 4096

// Send delivers a verification payload to a linked chat. The destination is
// the chat id as stored on the user. One attempt, the error is returned as is.
func (t *TgBot) Send(_ context.Context, destination, payload string) error {
	chatId, err := parseChatId(destination)
	if err != nil {
		return err
	}
	_, err = t.api.SendMessage(chatId, payload, &tgbotapi.SendMessageOpts{})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// SendMessageWithTopic sends a MarkdownV2 alert to every linked admin chat.
// Filtering by level is left to the caller.
func (t *TgBot) SendMessageWithTopic(msg string, _ slog.Level, topic string) {
	if !entity.IsValidTopic(topic) {
		topic = entity.TopicSystem
	}
	text := fmt.Sprintf("\\#%s\n%s", Sanitize(topic), msg)
	for _, part := range splitMessage(text, maxMessageLength) {
		t.notifyAdmins(part)
	}
}

func parseChatId(destination string) (int64, error) {
	chatId, err := strconv.ParseInt(destination, 10, 64)
	if err != nil || chatId == 0 {
		return 0, fmt.Errorf("invalid chat id %q", destination)
	}
	return chatId, nil
}
