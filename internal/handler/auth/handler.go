package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/service/token"
	"github.com/zhouzirui/quotesync/pkg/utils"
)

// Issuer exchanges credentials for a signed token.
type Issuer interface {
	Login(username, password string) (string, error)
}

// Handler serves /auth.
type Handler struct {
	issuer Issuer
	logger *zap.Logger
}

// New creates the /auth handler backed by issuer.
func New(issuer Issuer, log *zap.Logger) *Handler {
	return &Handler{issuer: issuer, logger: logger.OrNop(log)}
}

// RegisterRoutes mounts the login route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Username == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	signed, err := h.issuer.Login(payload.Username, payload.Password)
	if errors.Is(err, token.ErrInvalidCredentials) {
		utils.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	h.logger.Info("login", zap.String("user", payload.Username))
	utils.RespondJSON(w, http.StatusOK, loginResponse{AccessToken: signed, TokenType: "bearer"})
}
