package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"taskmarket/entity"
	"taskmarket/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// start links the chat when called through the deep link /start CODE.
func (t *TgBot) start(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	c, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		user, err := t.db.UserByTelegramId(c, chatId)
		if err != nil && !errors.Is(err, entity.ErrNotFound) {
			t.reportError(chatId, "/start", err)
			return nil
		}
		if user == nil {
			t.plainResponse(chatId, "Open the Telegram link from your profile to connect this chat\\.")
			return nil
		}
		t.plainResponse(chatId, fmt.Sprintf("This chat is linked to *%s*\\.", Sanitize(user.Name)))
		return nil
	}

	user, err := t.db.UseLinkCode(c, args[1], chatId, ctx.EffectiveUser.Username, t.now.Now())
	if err != nil {
		if errors.Is(err, entity.ErrInvalidOrExpiredCode) || errors.Is(err, entity.ErrNotFound) {
			t.plainResponse(chatId, "The link is invalid or expired\\. Request a new one in your profile\\.")
			return nil
		}
		t.reportError(chatId, "/start link", err)
		return nil
	}

	t.plainResponse(chatId, fmt.Sprintf(
		"Welcome, *%s*\\! This chat is now linked\\. Verification codes will be sent here\\.",
		Sanitize(user.Name),
	))
	t.setUserCommands(chatId, true)
	if user.IsAdmin() {
		t.loadAdmins()
	}
	t.log.With(
		"user_id", user.ID,
		"chat_id", chatId,
		sl.Topic(entity.TopicSecurity),
	).Info("telegram chat linked")
	return nil
}

func (t *TgBot) status(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	c, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	user, err := t.db.UserByTelegramId(c, chatId)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			t.plainResponse(chatId, "This chat is not linked to an account\\.")
			return nil
		}
		t.reportError(chatId, "/status", err)
		return nil
	}

	var sb strings.Builder
	sb.WriteString("*Your account*\n")
	sb.WriteString(fmt.Sprintf("Name: `%s`\n", Sanitize(user.Name)))
	sb.WriteString(fmt.Sprintf("Role: `%s`\n", Sanitize(string(user.Role))))
	if user.IsExecutor() {
		sb.WriteString(fmt.Sprintf("Trust level: `%s`\n", Sanitize(string(user.Level()))))
		if t.quotas != nil {
			qs, err := t.quotas.GetQuotaStatus(c, user.ID)
			if err != nil {
				t.reportError(chatId, "/status quota", err)
				return nil
			}
			sb.WriteString(fmt.Sprintf("Claims today: `%d/%d`\n", qs.DailyUsed, qs.DailyCeiling))
			for _, p := range entity.AllPlatforms() {
				if n := qs.PerPlatformUsed[p]; n > 0 {
					sb.WriteString(fmt.Sprintf("  %s: `%d/%d`\n", Sanitize(string(p)), n, qs.PlatformCeiling))
				}
			}
		}
	}
	t.plainResponse(chatId, sb.String())
	return nil
}

func (t *TgBot) help(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	t.plainResponse(chatId, "*Commands*\n"+
		"/start \\- link this chat using the code from your profile\n"+
		"/status \\- show your account and today's claims\n"+
		"/help \\- show this message")
	return nil
}
