package order

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"taskmarket/entity"
	apierr "taskmarket/internal/http-server/handlers/errors"
	"taskmarket/lib/api/cont"
	"taskmarket/lib/api/response"
	"taskmarket/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	ListOrders(ctx context.Context, user *entity.User, platform entity.Platform) ([]*entity.Order, error)
	CreateOrder(ctx context.Context, user *entity.User, draft *entity.OrderDraft) (*entity.Order, error)
	ClaimOrder(ctx context.Context, user *entity.User, orderID string) (*entity.Execution, error)
	ListExecutions(ctx context.Context, user *entity.User) ([]*entity.Execution, error)
	QuotaStatus(ctx context.Context, user *entity.User) (*entity.QuotaStatus, error)
}

func logger(log *slog.Logger, r *http.Request) *slog.Logger {
	return log.With(
		sl.Module("http.handlers.order"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// List returns pending orders visible to the executor, optionally for one platform.
func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)
		user := cont.GetUser(r.Context())

		platform := entity.Platform(r.URL.Query().Get("platform"))
		if platform != "" && !entity.IsValidPlatform(platform) {
			apierr.BadRequest(w, r, log, fmt.Errorf("unknown platform %q", platform))
			return
		}

		orders, err := handler.ListOrders(r.Context(), user, platform)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(orders))
	}
}

func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)
		user := cont.GetUser(r.Context())

		var draft entity.OrderDraft
		if err := render.Bind(r, &draft); err != nil {
			apierr.BadRequest(w, r, log, err)
			return
		}

		order, err := handler.CreateOrder(r.Context(), user, &draft)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(order))
	}
}

func Claim(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)
		user := cont.GetUser(r.Context())

		orderID := chi.URLParam(r, "id")
		if orderID == "" {
			apierr.BadRequest(w, r, log, fmt.Errorf("order id is required"))
			return
		}
		log = log.With(
			slog.String("order_id", orderID),
			slog.String("executor_id", user.ID),
		)

		execution, err := handler.ClaimOrder(r.Context(), user, orderID)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(execution))
	}
}

func Executions(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)
		user := cont.GetUser(r.Context())

		executions, err := handler.ListExecutions(r.Context(), user)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(executions))
	}
}

func Quota(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger(log, r)
		user := cont.GetUser(r.Context())

		status, err := handler.QuotaStatus(r.Context(), user)
		if err != nil {
			apierr.Render(w, r, log, err)
			return
		}
		render.JSON(w, r, response.Ok(status))
	}
}
