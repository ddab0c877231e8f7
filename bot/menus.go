package bot

import (
	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

var commandsAnonymous = []tgbotapi.BotCommand{
	{Command: "start", Description: "Link this chat to your account"},
	{Command: "help", Description: "Show available commands"},
}

var commandsLinked = []tgbotapi.BotCommand{
	{Command: "status", Description: "Show your account and today's claims"},
	{Command: "help", Description: "Show available commands"},
}

// setDefaultCommands sets the bot menu for chats that are not linked yet.
func (t *TgBot) setDefaultCommands() {
	_, err := t.api.SetMyCommands(commandsAnonymous, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeDefault{},
	})
	if err != nil {
		t.log.Warn("setting default commands", "error", err)
	}
}

func (t *TgBot) setUserCommands(chatId int64, linked bool) {
	commands := commandsAnonymous
	if linked {
		commands = commandsLinked
	}
	_, err := t.api.SetMyCommands(commands, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeChat{ChatId: chatId},
	})
	if err != nil {
		t.log.Warn("setting user commands", "chat_id", chatId, "error", err)
	}
}
