// Package bot is the Telegram chat-bot: it links chats to marketplace
// accounts, delivers verification codes and forwards alerts to admins.
//
//   - tgbot.go     TgBot struct, lifecycle (Start/Stop), admin cache, Database interface
//   - commands.go  chat commands: /start <code>, /status, /help
//   - menus.go     per-chat command menus
//   - messaging.go code delivery and admin alerts
//   - helpers.go   Sanitize, plainResponse, reportError
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"taskmarket/entity"
	"taskmarket/lib/clock"
	"taskmarket/lib/sl"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
)

const commandTimeout = 10 * time.Second

// Database defines the storage operations the bot depends on.
type Database interface {
	UserByTelegramId(ctx context.Context, chatId int64) (*entity.User, error)
	UseLinkCode(ctx context.Context, code string, chatId int64, username string, now time.Time) (*entity.User, error)
	AdminTelegramIds(ctx context.Context) ([]int64, error)
}

// QuotaService reports an executor's daily claim usage for /status.
type QuotaService interface {
	GetQuotaStatus(ctx context.Context, executorID string) (*entity.QuotaStatus, error)
}

type TgBot struct {
	log      *slog.Logger
	api      *tgbotapi.Bot
	db       Database
	quotas   QuotaService
	mu       sync.RWMutex
	adminIds []int64
	updater  *ext.Updater
	now      clock.Func
}

func NewTgBot(apiKey string, db Database, log *slog.Logger) (*TgBot, error) {
	tgBot := &TgBot{
		log: log.With(sl.Module("tgbot")),
		db:  db,
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

func (t *TgBot) SetQuotaService(quotas QuotaService) {
	t.quotas = quotas
}

// Start blocks while the bot is polling.
func (t *TgBot) Start() error {
	t.loadAdmins()

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("status", t.status))
	dispatcher.AddHandler(handlers.NewCommand("help", t.help))

	t.setDefaultCommands()

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
}

// loadAdmins refreshes the cached chat ids that receive alerts.
// Called on startup and after a chat is linked.
func (t *TgBot) loadAdmins() {
	if t.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ids, err := t.db.AdminTelegramIds(ctx)
	if err != nil {
		t.log.Warn("loading admins", sl.Err(err))
		return
	}

	t.mu.Lock()
	t.adminIds = ids
	t.mu.Unlock()

	t.log.With(slog.Int("admins", len(ids))).Debug("loaded admins")
}
