package entity

import (
	"net/http"
	"taskmarket/lib/validate"
)

// LoginRequest starts a code login; Login is an email or a phone number.
type LoginRequest struct {
	Login string `json:"login" validate:"required,max=128"`
}

func (l *LoginRequest) Bind(_ *http.Request) error {
	return validate.Struct(l)
}

type LoginConfirm struct {
	Login   string  `json:"login" validate:"required,max=128"`
	Channel Channel `json:"channel" validate:"required,oneof=sms email telegram"`
	Code    string  `json:"code" validate:"required,numeric,len=6"`
}

func (l *LoginConfirm) Bind(_ *http.Request) error {
	return validate.Struct(l)
}

type AdminLogin struct {
	Login    string `json:"login" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=128"`
}

func (a *AdminLogin) Bind(_ *http.Request) error {
	return validate.Struct(a)
}

// AdminConfirm submits one factor of a two-factor session.
type AdminConfirm struct {
	SessionToken string  `json:"session_token" validate:"required"`
	Channel      Channel `json:"channel" validate:"required,oneof=sms email"`
	Code         string  `json:"code" validate:"required,numeric,len=6"`
}

func (a *AdminConfirm) Bind(_ *http.Request) error {
	return validate.Struct(a)
}

// LoginResult is returned once a login is complete.
type LoginResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}
