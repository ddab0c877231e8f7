// Package verify issues and validates one-time codes and drives the
// two-factor admin session.
package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"taskmarket/entity"
	"taskmarket/lib/clock"
	"taskmarket/lib/sl"
	"time"

	"github.com/google/uuid"
)

const (
	CodeLength     = 6
	DefaultCodeTTL = 2 * time.Minute
)

var codeSpace = big.NewInt(1_000_000)

// Sender is a notification channel transport: one best-effort attempt.
type Sender interface {
	Send(ctx context.Context, destination, payload string) error
}

// CodeStore persists codes. ConsumeCode is the single serialisation point:
// it finds an unused, unexpired code with exactly this key and value and
// marks it used in one atomic step, or returns entity.ErrInvalidOrExpiredCode.
type CodeStore interface {
	SaveCode(ctx context.Context, code *entity.VerificationCode) error
	ConsumeCode(ctx context.Context, key entity.CodeKey, code string, now time.Time) (*entity.VerificationCode, error)
}

// Strategy is how codes are issued and checked. Cascade is the real one,
// Bypass accepts everything and is meant for local runs only.
type Strategy interface {
	Issue(ctx context.Context, subject *entity.User, purpose entity.Purpose) (*entity.IssueResult, error)
	// IssueOn sends a code on the given channel; sessionID binds it to a
	// two-factor session and is empty otherwise.
	IssueOn(ctx context.Context, subject *entity.User, channel entity.Channel, purpose entity.Purpose, sessionID string) (*entity.IssueResult, error)
	Validate(ctx context.Context, key entity.CodeKey, code string) error
}

// Cascade picks a channel by priority, stores the code, then sends it.
type Cascade struct {
	store   CodeStore
	senders map[entity.Channel]Sender
	ttl     time.Duration
	random  io.Reader
	now     clock.Func
	log     *slog.Logger
}

func NewCascade(store CodeStore, ttl time.Duration, log *slog.Logger) *Cascade {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &Cascade{
		store:   store,
		senders: make(map[entity.Channel]Sender),
		ttl:     ttl,
		random:  rand.Reader,
		log:     log.With(sl.Module("verify.cascade")),
	}
}

func (c *Cascade) SetSender(channel entity.Channel, sender Sender) {
	c.senders[channel] = sender
}

func (c *Cascade) SetClock(now clock.Func) {
	c.now = now
}

func (c *Cascade) Issue(ctx context.Context, subject *entity.User, purpose entity.Purpose) (*entity.IssueResult, error) {
	channel, err := SelectChannel(subject.Contacts())
	if err != nil {
		return nil, err
	}
	return c.IssueOn(ctx, subject, channel, purpose, "")
}

// IssueOn stores a fresh code for the channel and attempts delivery.
// The code is persisted before sending, so a failed delivery leaves it valid.
func (c *Cascade) IssueOn(ctx context.Context, subject *entity.User, channel entity.Channel, purpose entity.Purpose, sessionID string) (*entity.IssueResult, error) {
	destination := subject.Contacts().Destination(channel)
	if destination == "" {
		return nil, entity.ErrNoContactMethod
	}
	value, err := generateCode(c.random)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	now := c.now.Now()
	code := &entity.VerificationCode{
		ID:        uuid.New().String(),
		OwnerID:   subject.ID,
		Channel:   channel,
		Purpose:   purpose,
		SessionID: sessionID,
		Code:      value,
		ExpiresAt: now.Add(c.ttl),
		CreatedAt: now,
	}
	if err = c.store.SaveCode(ctx, code); err != nil {
		return nil, fmt.Errorf("save code: %w", err)
	}

	log := c.log.With(
		slog.String("owner_id", subject.ID),
		slog.String("channel", string(channel)),
		slog.String("purpose", string(purpose)),
		sl.Secret("destination", destination),
	)
	result := &entity.IssueResult{
		Channel:   channel,
		ExpiresAt: code.ExpiresAt,
	}
	sender, ok := c.senders[channel]
	if !ok {
		log.Warn("no sender for channel")
		return result, nil
	}
	if err = sender.Send(ctx, destination, c.payload(purpose, value)); err != nil {
		log.Warn("code delivery failed", sl.Err(err))
		return result, nil
	}
	result.Delivered = true
	log.Debug("code issued")
	return result, nil
}

func (c *Cascade) Validate(ctx context.Context, key entity.CodeKey, code string) error {
	if len(code) != CodeLength {
		return entity.ErrInvalidOrExpiredCode
	}
	_, err := c.store.ConsumeCode(ctx, key, code, c.now.Now())
	if err != nil {
		if errors.Is(err, entity.ErrInvalidOrExpiredCode) {
			c.log.With(
				slog.String("owner_id", key.OwnerID),
				slog.String("channel", string(key.Channel)),
				slog.String("purpose", string(key.Purpose)),
				sl.Topic(entity.TopicSecurity),
			).Debug("code rejected")
			return err
		}
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

func (c *Cascade) payload(purpose entity.Purpose, code string) string {
	minutes := int(c.ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	switch purpose {
	case entity.PurposeAdminLogin:
		return fmt.Sprintf("Admin sign-in code: %s. Valid for %d min. Do not share it.", code, minutes)
	case entity.PurposeLogin:
		return fmt.Sprintf("Your sign-in code: %s. Valid for %d min.", code, minutes)
	default:
		return fmt.Sprintf("Your confirmation code: %s. Valid for %d min.", code, minutes)
	}
}

// generateCode draws a uniform fixed-width numeric code.
func generateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// Bypass issues nothing and accepts any code. Config refuses it outside env=local.
type Bypass struct {
	log *slog.Logger
}

func NewBypass(log *slog.Logger) *Bypass {
	l := log.With(sl.Module("verify.bypass"))
	l.Warn("verification bypass enabled: codes are not sent nor checked")
	return &Bypass{log: l}
}

func (b *Bypass) Issue(_ context.Context, subject *entity.User, _ entity.Purpose) (*entity.IssueResult, error) {
	channel, err := SelectChannel(subject.Contacts())
	if err != nil {
		channel = entity.ChannelSMS
	}
	return &entity.IssueResult{Channel: channel, Delivered: true}, nil
}

func (b *Bypass) IssueOn(_ context.Context, _ *entity.User, channel entity.Channel, _ entity.Purpose, _ string) (*entity.IssueResult, error) {
	return &entity.IssueResult{Channel: channel, Delivered: true}, nil
}

func (b *Bypass) Validate(_ context.Context, key entity.CodeKey, _ string) error {
	b.log.With(
		slog.String("owner_id", key.OwnerID),
		slog.String("channel", string(key.Channel)),
	).Debug("code accepted without check")
	return nil
}
