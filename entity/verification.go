package entity

import (
	"net/http"
	"taskmarket/lib/validate"
	"time"
)

// Channel is a delivery channel for one-time codes.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// Destination returns the address of the channel in the contacts, empty if absent.
func (c Contacts) Destination(ch Channel) string {
	switch ch {
	case ChannelTelegram:
		if c.TelegramId != 0 {
			return formatChatId(c.TelegramId)
		}
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	}
	return ""
}

type Purpose string

const (
	PurposeLogin      Purpose = "login"
	PurposeAdminLogin Purpose = "admin_login"
	PurposeConfirm    Purpose = "confirm"
)

// CodeKey scopes a code: it validates only for the owner, channel, purpose
// and session it was issued for. SessionID is empty outside two-factor sessions.
type CodeKey struct {
	OwnerID   string
	Channel   Channel
	Purpose   Purpose
	SessionID string
}

// VerificationCode is one issued one-time code.
// Used flips false→true exactly once; an expired code never validates.
type VerificationCode struct {
	ID        string    `json:"id" bson:"_id"`
	OwnerID   string    `json:"owner_id" bson:"owner_id"`
	Channel   Channel   `json:"channel" bson:"channel"`
	Purpose   Purpose   `json:"purpose" bson:"purpose"`
	SessionID string    `json:"session_id,omitempty" bson:"session_id"`
	Code      string    `json:"-" bson:"code"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
	Used      bool      `json:"used" bson:"used"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

func (c *VerificationCode) Key() CodeKey {
	return CodeKey{
		OwnerID:   c.OwnerID,
		Channel:   c.Channel,
		Purpose:   c.Purpose,
		SessionID: c.SessionID,
	}
}

func (c *VerificationCode) Usable(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}

// IssueResult tells the caller which channel was used; Delivered=false
// is a hint that the transport failed, the code itself remains valid.
type IssueResult struct {
	Channel   Channel   `json:"channel"`
	Delivered bool      `json:"delivered"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerificationSession tracks one login attempt awaiting both SMS and Email codes.
type VerificationSession struct {
	ID              string     `json:"id" bson:"_id"`
	SubjectID       string     `json:"subject_id" bson:"subject_id"`
	Token           string     `json:"-" bson:"token"`
	SmsVerified     bool       `json:"sms_verified" bson:"sms_verified"`
	EmailVerified   bool       `json:"email_verified" bson:"email_verified"`
	ExpiresAt       time.Time  `json:"expires_at" bson:"expires_at"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
	AuthenticatedAt *time.Time `json:"authenticated_at,omitempty" bson:"authenticated_at,omitempty"`
}

func (s *VerificationSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// FullyVerified is the only place that decides whether a session is complete.
func (s *VerificationSession) FullyVerified(now time.Time) bool {
	return s.SmsVerified && s.EmailVerified && !s.Expired(now)
}

func (s *VerificationSession) Status(now time.Time) SessionStatus {
	return SessionStatus{
		SmsVerified:   s.SmsVerified,
		EmailVerified: s.EmailVerified,
		FullyVerified: s.FullyVerified(now),
		Expired:       s.Expired(now),
		ExpiresAt:     s.ExpiresAt,
	}
}

type SessionStatus struct {
	SmsVerified   bool      `json:"sms_verified"`
	EmailVerified bool      `json:"email_verified"`
	FullyVerified bool      `json:"fully_verified"`
	Expired       bool      `json:"expired"`
	ExpiresAt     time.Time `json:"expires_at"`
	AuthToken     string    `json:"auth_token,omitempty"`
}

// CodeSubmission is a code presented by the user for a channel.
type CodeSubmission struct {
	Channel Channel `json:"channel" validate:"required,oneof=sms email telegram"`
	Code    string  `json:"code" validate:"required,numeric,len=6"`
}

func (c *CodeSubmission) Bind(_ *http.Request) error {
	return validate.Struct(c)
}
