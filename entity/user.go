package entity

import (
	"strings"
	"time"
)

// Role controls what a user may do in the marketplace.
// Admin roles: RoleModerator < RoleAdmin < RoleSuperAdmin.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleExecutor   Role = "executor"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// User represents every account: customers, executors and the admin staff.
// Contact fields drive the verification channel cascade.
type User struct {
	ID               string     `json:"id" bson:"_id"`
	Role             Role       `json:"role" bson:"role"`
	Name             string     `json:"name" bson:"name"`
	Email            string     `json:"email,omitempty" bson:"email,omitempty"`
	Phone            string     `json:"phone,omitempty" bson:"phone,omitempty"`
	TelegramId       int64      `json:"telegram_id,omitempty" bson:"telegram_id,omitempty"`
	TelegramUsername string     `json:"telegram_username,omitempty" bson:"telegram_username,omitempty"`
	PasswordHash     string     `json:"-" bson:"password_hash,omitempty"`
	TrustLevel       TrustLevel `json:"trust_level,omitempty" bson:"trust_level,omitempty"`
	Location         Location   `json:"location" bson:"location"`
	RegisteredAt     time.Time  `json:"registered_at" bson:"registered_at"`
}

func (u *User) IsExecutor() bool {
	return u.Role == RoleExecutor
}

func (u *User) IsCustomer() bool {
	return u.Role == RoleCustomer
}

func (u *User) IsAdmin() bool {
	switch u.Role {
	case RoleModerator, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Level returns the trust level, novice when none is recorded.
func (u *User) Level() TrustLevel {
	if IsValidTrustLevel(u.TrustLevel) {
		return u.TrustLevel
	}
	return LevelNovice
}

func (u *User) Contacts() Contacts {
	return Contacts{
		TelegramId: u.TelegramId,
		Email:      strings.TrimSpace(u.Email),
		Phone:      strings.TrimSpace(u.Phone),
	}
}

// Contacts is the capability record of a verification subject.
type Contacts struct {
	TelegramId int64
	Email      string
	Phone      string
}

func (c Contacts) HasTelegram() bool {
	return c.TelegramId != 0
}

func (c Contacts) HasEmail() bool {
	return c.Email != ""
}

func (c Contacts) HasPhone() bool {
	return c.Phone != ""
}
