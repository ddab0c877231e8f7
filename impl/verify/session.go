package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"taskmarket/entity"
	"taskmarket/lib/clock"
	"taskmarket/lib/sl"
	"time"

	"github.com/google/uuid"
)

const DefaultSessionLifetime = 10 * time.Minute

// SessionStore persists two-factor sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *entity.VerificationSession) error
	SessionByToken(ctx context.Context, token string) (*entity.VerificationSession, error)
	// SetFactor flips the channel's flag to true and returns the updated session.
	SetFactor(ctx context.Context, sessionID string, channel entity.Channel) (*entity.VerificationSession, error)
	// MarkAuthenticated records the moment of authentication once;
	// it returns false if the session was already marked.
	MarkAuthenticated(ctx context.Context, sessionID string, at time.Time) (bool, error)
}

type Users interface {
	User(ctx context.Context, id string) (*entity.User, error)
}

type TokenIssuer interface {
	IssueToken(user *entity.User) (string, error)
}

// Sessions is the AwaitingFactors → FullyVerified state machine. Expired is
// implicit once ExpiresAt passes and is terminal.
type Sessions struct {
	store    SessionStore
	codes    Strategy
	users    Users
	tokens   TokenIssuer
	lifetime time.Duration
	now      clock.Func
	log      *slog.Logger
}

func NewSessions(store SessionStore, codes Strategy, users Users, tokens TokenIssuer, lifetime time.Duration, log *slog.Logger) *Sessions {
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &Sessions{
		store:    store,
		codes:    codes,
		users:    users,
		tokens:   tokens,
		lifetime: lifetime,
		log:      log.With(sl.Module("verify.sessions")),
	}
}

func (s *Sessions) SetClock(now clock.Func) {
	s.now = now
}

type StartResult struct {
	SessionToken string              `json:"session_token"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Sms          *entity.IssueResult `json:"sms"`
	Email        *entity.IssueResult `json:"email"`
}

// Start opens a session for a subject whose credentials were already checked
// and sends the SMS and Email codes. Both contacts are required. The codes
// are bound to the new session, so nothing carries over from earlier ones.
func (s *Sessions) Start(ctx context.Context, subject *entity.User) (*StartResult, error) {
	contacts := subject.Contacts()
	if !contacts.HasPhone() || !contacts.HasEmail() {
		return nil, entity.ErrNoContactMethod
	}
	now := s.now.Now()
	session := &entity.VerificationSession{
		ID:        uuid.New().String(),
		SubjectID: subject.ID,
		Token:     uuid.New().String(),
		ExpiresAt: now.Add(s.lifetime),
		CreatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	result := &StartResult{
		SessionToken: session.Token,
		ExpiresAt:    session.ExpiresAt,
	}
	var err error
	if result.Sms, err = s.codes.IssueOn(ctx, subject, entity.ChannelSMS, entity.PurposeAdminLogin, session.ID); err != nil {
		return nil, fmt.Errorf("issue sms code: %w", err)
	}
	if result.Email, err = s.codes.IssueOn(ctx, subject, entity.ChannelEmail, entity.PurposeAdminLogin, session.ID); err != nil {
		return nil, fmt.Errorf("issue email code: %w", err)
	}
	s.log.With(
		slog.String("subject_id", subject.ID),
		slog.String("session_id", session.ID),
		sl.Topic(entity.TopicSecurity),
	).Info("verification session started")
	return result, nil
}

// Confirm validates a code for one factor and re-evaluates the session.
// The caller that completes the second factor receives the auth token.
func (s *Sessions) Confirm(ctx context.Context, token string, channel entity.Channel, code string) (*entity.SessionStatus, error) {
	session, err := s.store.SessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now.Now()) {
		return nil, entity.ErrSessionExpired
	}
	if channel != entity.ChannelSMS && channel != entity.ChannelEmail {
		return nil, entity.ErrInvalidOrExpiredCode
	}
	key := entity.CodeKey{
		OwnerID:   session.SubjectID,
		Channel:   channel,
		Purpose:   entity.PurposeAdminLogin,
		SessionID: session.ID,
	}
	if err = s.codes.Validate(ctx, key, code); err != nil {
		return nil, err
	}
	session, err = s.store.SetFactor(ctx, session.ID, channel)
	if err != nil {
		return nil, fmt.Errorf("set factor: %w", err)
	}

	now := s.now.Now()
	if session.Expired(now) {
		return nil, entity.ErrSessionExpired
	}
	status := session.Status(now)
	if !status.FullyVerified {
		return &status, nil
	}

	first, err := s.store.MarkAuthenticated(ctx, session.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark authenticated: %w", err)
	}
	if !first {
		return &status, nil
	}
	subject, err := s.users.User(ctx, session.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	if status.AuthToken, err = s.tokens.IssueToken(subject); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.log.With(
		slog.String("subject_id", subject.ID),
		slog.String("session_id", session.ID),
		sl.Topic(entity.TopicSecurity),
	).Info("session fully verified")
	return &status, nil
}

func (s *Sessions) Status(ctx context.Context, token string) (*entity.SessionStatus, error) {
	session, err := s.store.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	status := session.Status(s.now.Now())
	return &status, nil
}
