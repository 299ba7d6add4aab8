package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authHandler "github.com/zhouzirui/quotesync/internal/handler/auth"
	quoteHandler "github.com/zhouzirui/quotesync/internal/handler/quote"
	wsHandler "github.com/zhouzirui/quotesync/internal/handler/ws"
	"github.com/zhouzirui/quotesync/internal/logger"
	middlewarePkg "github.com/zhouzirui/quotesync/internal/middleware"
	"github.com/zhouzirui/quotesync/internal/service/quoting"
	"github.com/zhouzirui/quotesync/internal/service/token"
	"github.com/zhouzirui/quotesync/pkg/utils"
)

// NewRouter wires HTTP routes to the quoting and token services.
func NewRouter(quotes *quoting.Service, issuer *token.Issuer, log *zap.Logger) http.Handler {
	log = logger.OrNop(log)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log.With(zap.String("module", "http"))))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", authHandler.New(issuer, log.With(zap.String("module", "auth"))).RegisterRoutes)

	r.Route("/quote", func(qr chi.Router) {
		qr.Use(middlewarePkg.Bearer(issuer))
		quoteHandler.New(quotes, log.With(zap.String("module", "quote"))).RegisterRoutes(qr)
	})

	wsHandler.New(quotes, issuer, log.With(zap.String("module", "ws"))).RegisterRoutes(r)

	return r
}
