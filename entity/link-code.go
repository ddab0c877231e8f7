package entity

import (
	"strconv"
	"time"
)

// LinkCode binds a Telegram chat to a marketplace account.
// Users open a deep link (t.me/bot?start=CODE) issued from their profile;
// UseLinkCode atomically marks it used so a code links at most one chat.
type LinkCode struct {
	Code      string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
	UsedBy    int64     `bson:"used_by"`
	UsedAt    time.Time `bson:"used_at,omitempty"`
	Used      bool      `bson:"used"`
}

func formatChatId(id int64) string {
	return strconv.FormatInt(id, 10)
}

// TelegramLink is the deep link a user opens to connect the chat-bot.
type TelegramLink struct {
	Code      string    `json:"code"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}
