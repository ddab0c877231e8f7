package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"taskmarket/entity"
	"taskmarket/impl/market"
	"taskmarket/impl/verify"
	"taskmarket/lib/clock"
	"taskmarket/lib/sl"
	"time"

	"github.com/google/uuid"
)

const defaultLinkTTL = 30 * time.Minute

type AuthService interface {
	UserByToken(ctx context.Context, token string) (*entity.User, error)
	IssueToken(user *entity.User) (string, error)
	FindByLogin(ctx context.Context, login string) (*entity.User, error)
	CheckPassword(ctx context.Context, login, password string) (*entity.User, error)
}

type LinkStore interface {
	CreateLinkCode(ctx context.Context, code *entity.LinkCode) error
}

// Core wires the domain services behind the HTTP handler interface.
type Core struct {
	market   *market.Market
	codes    verify.Strategy
	sessions *verify.Sessions
	auth     AuthService
	links    LinkStore
	botName  string
	linkTTL  time.Duration
	now      clock.Func
	log      *slog.Logger
}

func New(m *market.Market, codes verify.Strategy, sessions *verify.Sessions, log *slog.Logger) *Core {
	if m == nil {
		panic("market is nil")
	}
	if codes == nil {
		panic("verification strategy is nil")
	}
	return &Core{
		market:   m,
		codes:    codes,
		sessions: sessions,
		linkTTL:  defaultLinkTTL,
		log:      log.With(sl.Module("core")),
	}
}

func (c *Core) SetAuthService(auth AuthService) {
	c.auth = auth
}

// SetTelegramLinks enables deep links to the chat-bot named botName.
func (c *Core) SetTelegramLinks(links LinkStore, botName string, ttl time.Duration) {
	c.links = links
	c.botName = strings.TrimPrefix(botName, "@")
	if ttl > 0 {
		c.linkTTL = ttl
	}
}

func (c *Core) SetClock(now clock.Func) {
	c.now = now
}

func (c *Core) AuthenticateByToken(ctx context.Context, token string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.UserByToken(ctx, token)
}

// marketplace

func (c *Core) ListOrders(ctx context.Context, user *entity.User, platform entity.Platform) ([]*entity.Order, error) {
	return c.market.ListVisibleOrdersFor(ctx, user.ID, platform)
}

func (c *Core) CreateOrder(ctx context.Context, user *entity.User, draft *entity.OrderDraft) (*entity.Order, error) {
	return c.market.CreateOrder(ctx, user.ID, draft)
}

func (c *Core) ClaimOrder(ctx context.Context, user *entity.User, orderID string) (*entity.Execution, error) {
	return c.market.ClaimOrder(ctx, orderID, user.ID)
}

func (c *Core) ListExecutions(ctx context.Context, user *entity.User) ([]*entity.Execution, error) {
	return c.market.ListExecutions(ctx, user.ID)
}

func (c *Core) QuotaStatus(ctx context.Context, user *entity.User) (*entity.QuotaStatus, error) {
	return c.market.GetQuotaStatus(ctx, user.ID)
}

// verification of a signed-in user

func (c *Core) IssueCode(ctx context.Context, user *entity.User) (*entity.IssueResult, error) {
	return c.codes.Issue(ctx, user, entity.PurposeConfirm)
}

func (c *Core) ConfirmCode(ctx context.Context, user *entity.User, sub *entity.CodeSubmission) error {
	return c.codes.Validate(ctx, entity.CodeKey{
		OwnerID: user.ID,
		Channel: sub.Channel,
		Purpose: entity.PurposeConfirm,
	}, sub.Code)
}

// code login

// LoginStart sends a login code through the cascade. Unknown logins get the
// same error as bad credentials.
func (c *Core) LoginStart(ctx context.Context, req *entity.LoginRequest) (*entity.IssueResult, error) {
	user, err := c.findLogin(ctx, req.Login)
	if err != nil {
		return nil, err
	}
	return c.codes.Issue(ctx, user, entity.PurposeLogin)
}

func (c *Core) LoginConfirm(ctx context.Context, req *entity.LoginConfirm) (*entity.LoginResult, error) {
	user, err := c.findLogin(ctx, req.Login)
	if err != nil {
		return nil, err
	}
	key := entity.CodeKey{
		OwnerID: user.ID,
		Channel: req.Channel,
		Purpose: entity.PurposeLogin,
	}
	if err = c.codes.Validate(ctx, key, req.Code); err != nil {
		return nil, err
	}
	token, err := c.auth.IssueToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &entity.LoginResult{Token: token, User: user}, nil
}

func (c *Core) findLogin(ctx context.Context, login string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	user, err := c.auth.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, entity.ErrInvalidCredentials
		}
		return nil, err
	}
	return user, nil
}

// admin two-factor login

func (c *Core) AdminLogin(ctx context.Context, req *entity.AdminLogin) (*verify.StartResult, error) {
	if c.auth == nil || c.sessions == nil {
		return nil, fmt.Errorf("admin login not configured")
	}
	user, err := c.auth.CheckPassword(ctx, req.Login, req.Password)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		c.log.With(
			slog.String("user_id", user.ID),
			sl.Topic(entity.TopicSecurity),
		).Warn("admin login by non-admin")
		return nil, entity.ErrInvalidCredentials
	}
	return c.sessions.Start(ctx, user)
}

func (c *Core) AdminConfirm(ctx context.Context, req *entity.AdminConfirm) (*entity.SessionStatus, error) {
	if c.sessions == nil {
		return nil, fmt.Errorf("admin login not configured")
	}
	return c.sessions.Confirm(ctx, req.SessionToken, req.Channel, req.Code)
}

func (c *Core) AdminSessionStatus(ctx context.Context, token string) (*entity.SessionStatus, error) {
	if c.sessions == nil {
		return nil, fmt.Errorf("admin login not configured")
	}
	return c.sessions.Status(ctx, token)
}

// telegram

// TelegramLink issues a one-time deep link that binds the chat-bot to the user.
func (c *Core) TelegramLink(ctx context.Context, user *entity.User) (*entity.TelegramLink, error) {
	if c.links == nil || c.botName == "" {
		return nil, fmt.Errorf("telegram bot is not configured")
	}
	now := c.now.Now()
	code := &entity.LinkCode{
		Code:      strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.linkTTL),
	}
	if err := c.links.CreateLinkCode(ctx, code); err != nil {
		return nil, fmt.Errorf("create link code: %w", err)
	}
	return &entity.TelegramLink{
		Code:      code.Code,
		Link:      fmt.Sprintf("https://t.me/%s?start=%s", c.botName, code.Code),
		ExpiresAt: code.ExpiresAt,
	}, nil
}
