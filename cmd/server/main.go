package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"taskmarket/bot"
	"taskmarket/entity"
	"taskmarket/impl/auth"
	"taskmarket/impl/core"
	"taskmarket/impl/market"
	"taskmarket/impl/verify"
	"taskmarket/internal/config"
	"taskmarket/internal/database"
	"taskmarket/internal/directory"
	"taskmarket/internal/http-server/api"
	"taskmarket/internal/notify"
	"taskmarket/lib/logger"
	"taskmarket/lib/sl"
	"time"
)

const envLocal = "local"

// store is everything the services need from the primary database.
type store interface {
	market.Store
	verify.CodeStore
	verify.SessionStore
	User(ctx context.Context, id string) (*entity.User, error)
	UserByEmail(ctx context.Context, email string) (*entity.User, error)
	UserByPhone(ctx context.Context, phone string) (*entity.User, error)
	UserByTelegramId(ctx context.Context, chatId int64) (*entity.User, error)
	AdminTelegramIds(ctx context.Context) ([]int64, error)
	CreateLinkCode(ctx context.Context, code *entity.LinkCode) error
	UseLinkCode(ctx context.Context, code string, chatId int64, username string, now time.Time) (*entity.User, error)
}

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	log := logger.SetupLogger(conf.Env, *logPath)
	log.Info("starting taskmarket", slog.String("config", *configPath), slog.String("env", conf.Env))

	var db store
	if conf.Mongo.Enabled {
		mongo, err := database.NewMongoClient(conf, log)
		if err != nil {
			log.Error("mongo client", sl.Err(err))
			os.Exit(1)
		}
		defer mongo.Close()
		db = mongo
		log.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo client initialized")
	} else {
		if conf.Env != envLocal {
			log.Warn("mongo is disabled, using in-memory store")
		}
		db = database.NewMemory()
	}

	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		var err error
		tgBot, err = bot.NewTgBot(conf.Telegram.ApiKey, db, log)
		if err != nil {
			log.Error("telegram bot", sl.Err(err))
		} else {
			level := logger.ParseLevel(conf.Telegram.LogLevel)
			log = slog.New(logger.NewTelegramHandler(log.Handler(), tgBot, level))
			log.Info("telegram bot initialized", slog.String("bot", conf.Telegram.BotName))
		}
	}

	var dir market.Directory = db
	if conf.Directory.Driver == "mysql" {
		sqlClient, err := directory.NewSQLClient(conf)
		if err != nil {
			log.Error("mysql directory", sl.Err(err))
			os.Exit(1)
		}
		defer sqlClient.Close()
		dir = sqlClient
		log.With(
			slog.String("host", conf.Directory.HostName),
			slog.String("database", conf.Directory.Database),
		).Info("mysql directory initialized")
	}

	limits, err := market.LimitsFromConfig(conf.Quota)
	if err != nil {
		log.Error("quota limits", sl.Err(err))
		os.Exit(1)
	}
	mkt := market.New(db, dir, limits, log)

	tokens := auth.New(db, conf.Auth.Secret, conf.Auth.TokenTTL, log)

	var strategy verify.Strategy
	switch conf.Verification.Mode {
	case "bypass":
		strategy = verify.NewBypass(log)
	default:
		cascade := verify.NewCascade(db, conf.Verification.CodeTTL, log)
		switch {
		case conf.Smtp.Enabled:
			cascade.SetSender(entity.ChannelEmail, notify.NewEmailSender(conf.Smtp, log))
		case conf.Env == envLocal:
			cascade.SetSender(entity.ChannelEmail, notify.NewLogSender(string(entity.ChannelEmail), log))
		}
		switch {
		case conf.Sms.Enabled:
			cascade.SetSender(entity.ChannelSMS, notify.NewSMSSender(conf.Sms, log))
		case conf.Env == envLocal:
			cascade.SetSender(entity.ChannelSMS, notify.NewLogSender(string(entity.ChannelSMS), log))
		}
		if tgBot != nil {
			cascade.SetSender(entity.ChannelTelegram, tgBot)
		} else if conf.Env == envLocal {
			cascade.SetSender(entity.ChannelTelegram, notify.NewLogSender(string(entity.ChannelTelegram), log))
		}
		strategy = cascade
	}

	sessions := verify.NewSessions(db, strategy, db, tokens, conf.Verification.SessionLifetime, log)

	handler := core.New(mkt, strategy, sessions, log)
	handler.SetAuthService(tokens)

	if tgBot != nil {
		handler.SetTelegramLinks(db, conf.Telegram.BotName, time.Duration(conf.Telegram.LinkTTL)*time.Minute)
		tgBot.SetQuotaService(mkt)
		go func() {
			if err := tgBot.Start(); err != nil {
				log.Error("telegram bot", sl.Err(err))
			}
		}()
		defer tgBot.Stop()
	}

	// *** blocking start ***
	err = api.New(conf, log, handler)
	if err != nil {
		log.Error("server start", sl.Err(err))
	}
}
