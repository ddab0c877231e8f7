package verify

import (
	"context"
	"log/slog"
	"net/http"
	"taskmarket/entity"
	apierr "taskmarket/internal/http-server/handlers/errors"
	"taskmarket/lib/api/cont"
	"taskmarket/lib/api/response"
	"taskmarket/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	IssueCode(ctx context.Context, user *entity.User) (*entity.IssueResult, error)
	ConfirmCode(ctx context.Context, user *entity.User, sub *entity.CodeSubmission) error
	TelegramLink(ctx context.Context, user *entity.User) (*entity.TelegramLink, error)
}

func logger(log *slog.Logger, r *http.Request) *slog.Logger {
	return log.With(
		sl.Module("http.handlers.verify"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// Issue sends a confirmation code to the signed-in user.
func Issue(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)
		user := cont.GetUser(r.Context())

		result, err := handler.IssueCode(r.Context(), user)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(result))
	}
}

func Confirm(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)
		user := cont.GetUser(r.Context())

		var sub entity.CodeSubmission
		if err := render.Bind(r, &sub); err != nil {
			apierr.BadRequest(w, r, log, err)
			return
		}

		if err := handler.ConfirmCode(r.Context(), user, &sub); err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

func TelegramLink(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)
		user := cont.GetUser(r.Context())

		link, err := handler.TelegramLink(r.Context(), user)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(link))
	}
}
