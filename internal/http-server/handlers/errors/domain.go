package errors

import (
	goerrors "errors"
	"log/slog"
	"net/http"
	"taskmarket/entity"
	"taskmarket/lib/api/response"
	"taskmarket/lib/sl"

	"github.com/go-chi/render"
)

// LimitData is returned with 429 so the client can show the reached ceiling.
type LimitData struct {
	Limit    string          `json:"limit"`
	Ceiling  int             `json:"ceiling"`
	Platform entity.Platform `json:"platform,omitempty"`
}

var statuses = []struct {
	err    error
	status int
}{
	{entity.ErrNotFound, http.StatusNotFound},
	{entity.ErrOrderNotClaimable, http.StatusConflict},
	{entity.ErrAlreadyClaimed, http.StatusConflict},
	{entity.ErrExecutorNotFound, http.StatusForbidden},
	{entity.ErrInvalidOrExpiredCode, http.StatusBadRequest},
	{entity.ErrNoContactMethod, http.StatusUnprocessableEntity},
	{entity.ErrSessionExpired, http.StatusGone},
	{entity.ErrInvalidCredentials, http.StatusUnauthorized},
	{entity.ErrForbidden, http.StatusForbidden},
}

// Render writes a domain error as a 4xx with its message; any other error is
// logged and answered with a generic 500.
func Render(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var limit *entity.LimitError
	if goerrors.As(err, &limit) {
		data := LimitData{Limit: "daily", Ceiling: limit.Ceiling, Platform: limit.Platform}
		if goerrors.Is(limit, entity.ErrPlatformLimitReached) {
			data.Limit = "platform"
		}
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, response.ErrorData(limit.Error(), data))
		return
	}
	for _, s := range statuses {
		if goerrors.Is(err, s.err) {
			render.Status(r, s.status)
			render.JSON(w, r, response.Error(s.err.Error()))
			return
		}
	}
	log.Error("request failed", sl.Err(err))
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, response.Error("Internal error"))
}

// BadRequest answers a request that failed binding or validation.
func BadRequest(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	log.Debug("invalid request body", sl.Err(err))
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, response.Error("Invalid request: "+err.Error()))
}
