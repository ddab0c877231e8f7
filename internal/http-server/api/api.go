package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"taskmarket/entity"
	"taskmarket/internal/config"
	"taskmarket/internal/http-server/handlers/auth"
	"taskmarket/internal/http-server/handlers/errors"
	"taskmarket/internal/http-server/handlers/order"
	"taskmarket/internal/http-server/handlers/verify"
	"taskmarket/internal/http-server/middleware/authenticate"
	"taskmarket/internal/http-server/middleware/timeout"
	"taskmarket/lib/sl"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const requestTimeout = 5 * time.Second

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	auth.Core
	order.Core
	verify.Core
}

// Router builds the API routes; exposed separately from New for tests.
func Router(log *slog.Logger, handler Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(timeout.Timeout(requestTimeout))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/auth", func(a chi.Router) {
		a.Post("/login", auth.Login(log, handler))
		a.Post("/login/confirm", auth.LoginConfirm(log, handler))
		a.Post("/admin/login", auth.AdminLogin(log, handler))
		a.Post("/admin/confirm", auth.AdminConfirm(log, handler))
		a.Get("/admin/session/{token}", auth.AdminSession(log, handler))
	})

	router.Route("/v1", func(v1 chi.Router) {
		v1.Use(authenticate.New(log, handler))

		v1.Group(func(ex chi.Router) {
			ex.Use(authenticate.Roles(entity.RoleExecutor))
			ex.Get("/orders", order.List(log, handler))
			ex.Post("/orders/{id}/claim", order.Claim(log, handler))
			ex.Get("/executions", order.Executions(log, handler))
			ex.Get("/quota", order.Quota(log, handler))
		})
		v1.With(authenticate.Roles(entity.RoleCustomer)).Post("/orders", order.Create(log, handler))

		v1.Post("/verify/code", verify.Issue(log, handler))
		v1.Post("/verify/confirm", verify.Confirm(log, handler))
		v1.Post("/profile/telegram-link", verify.TelegramLink(log, handler))
	})

	return router
}

func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      Router(log, handler),
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
