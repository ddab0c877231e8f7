package auth

import (
	"context"
	"log/slog"
	"net/http"
	"taskmarket/entity"
	"taskmarket/impl/verify"
	apierr "taskmarket/internal/http-server/handlers/errors"
	"taskmarket/lib/api/response"
	"taskmarket/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	LoginStart(ctx context.Context, req *entity.LoginRequest) (*entity.IssueResult, error)
	LoginConfirm(ctx context.Context, req *entity.LoginConfirm) (*entity.LoginResult, error)
	AdminLogin(ctx context.Context, req *entity.AdminLogin) (*verify.StartResult, error)
	AdminConfirm(ctx context.Context, req *entity.AdminConfirm) (*entity.SessionStatus, error)
	AdminSessionStatus(ctx context.Context, token string) (*entity.SessionStatus, error)
}

func logger(log *slog.Logger, r *http.Request) *slog.Logger {
	return log.With(
		sl.Module("http.handlers.auth"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// Login sends a one-time code through the first available channel.
func Login(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)

		var req entity.LoginRequest
		if err := render.Bind(r, &req); err != nil {
			apierr.BadRequest(w, r, log, err)
			return
		}

		result, err := handler.LoginStart(r.Context(), &req)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(result))
	}
}

func LoginConfirm(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)

		var req entity.LoginConfirm
		if err := render.Bind(r, &req); err != nil {
			apierr.BadRequest(w, r, log, err)
			return
		}

		result, err := handler.LoginConfirm(r.Context(), &req)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(result))
	}
}

// AdminLogin checks the password and opens a two-factor session.
func AdminLogin(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)

		var req entity.AdminLogin
		if err := render.Bind(r, &req); err != nil {
			apierr.BadRequest(w, r, log, err)
			return
		}

		result, err := handler.AdminLogin(r.Context(), &req)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(result))
	}
}

func AdminConfirm(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)

		var req entity.AdminConfirm
		if err := render.Bind(r, &req); err != nil {
			apierr.BadRequest(w, r, log, err)
			return
		}

		status, err := handler.AdminConfirm(r.Context(), &req)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(status))
	}
}

func AdminSession(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)

		status, err := handler.AdminSessionStatus(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(status))
	}
}
