package quote

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/middleware"
	"github.com/zhouzirui/quotesync/internal/model/quote"
	"github.com/zhouzirui/quotesync/pkg/utils"
)

// Service is the session backend behind the REST routes.
type Service interface {
	GetSession(ctx context.Context, userID, sessionID string) (*quote.Session, error)
	SaveSession(ctx context.Context, session *quote.Session) (*quote.Session, error)
}

// Handler serves /quote.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New creates the /quote handler backed by svc.
func New(svc Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.OrNop(log)}
}

// RegisterRoutes mounts the session routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleGet)
	r.Post("/", h.handleSave)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	session, err := h.svc.GetSession(r.Context(), user, r.URL.Query().Get("sessionId"))
	if err != nil {
		h.logger.Error("get session", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var session quote.Session
	if err := utils.DecodeJSON(r, &session); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.UserID == "" {
		session.UserID = middleware.User(r.Context())
	}

	saved, err := h.svc.SaveSession(r.Context(), &session)
	if err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) || errors.Is(err, quote.ErrCurrencyMismatch) {
			utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("save session", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "could not save session")
		return
	}
	utils.RespondJSON(w, http.StatusOK, saved)
}
