package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"taskmarket/entity"
	"taskmarket/lib/clock"
	"taskmarket/lib/sl"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenTTL = 30 * 24 * time.Hour

type Database interface {
	User(ctx context.Context, id string) (*entity.User, error)
	UserByEmail(ctx context.Context, email string) (*entity.User, error)
	UserByPhone(ctx context.Context, phone string) (*entity.User, error)
}

type claims struct {
	Role entity.Role `json:"role"`
	jwt.RegisteredClaims
}

type Auth struct {
	db     Database
	secret []byte
	ttl    time.Duration
	now    clock.Func
	log    *slog.Logger
}

// New returns the token and credential service. An empty secret is replaced
// with a random one, so tokens do not survive a restart.
func New(db Database, secret string, ttl time.Duration, log *slog.Logger) *Auth {
	l := log.With(sl.Module("auth"))
	if secret == "" {
		secret = uuid.New().String() + uuid.New().String()
		l.Warn("auth secret is not set, using a random one")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Auth{
		db:     db,
		secret: []byte(secret),
		ttl:    ttl,
		log:    l,
	}
}

func (a *Auth) SetClock(now clock.Func) {
	a.now = now
}

// IssueToken signs an HS256 token carrying the user id and role.
func (a *Auth) IssueToken(user *entity.User) (string, error) {
	now := a.now.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	return token.SignedString(a.secret)
}

func (a *Auth) UserByToken(ctx context.Context, token string) (*entity.User, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now.Now))
	if err != nil {
		return nil, entity.ErrInvalidCredentials
	}
	user, err := a.db.User(ctx, c.Subject)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, entity.ErrInvalidCredentials
		}
		return nil, err
	}
	return user, nil
}

// FindByLogin resolves a user by email when the login has an @, by phone otherwise.
func (a *Auth) FindByLogin(ctx context.Context, login string) (*entity.User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, entity.ErrNotFound
	}
	if strings.Contains(login, "@") {
		return a.db.UserByEmail(ctx, login)
	}
	return a.db.UserByPhone(ctx, login)
}

// CheckPassword returns the user when the password matches the stored hash.
func (a *Auth) CheckPassword(ctx context.Context, login, password string) (*entity.User, error) {
	user, err := a.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, entity.ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, entity.ErrInvalidCredentials
	}
	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		a.log.With(
			slog.String("user_id", user.ID),
			sl.Topic(entity.TopicSecurity),
		).Warn("password mismatch")
		return nil, entity.ErrInvalidCredentials
	}
	return user, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
