// Package ws serves the push channel endpoint of the development server.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/channel"
	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/model/quote"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Updater applies a client edit and returns the authoritative session.
type Updater interface {
	ApplyClientUpdate(ctx context.Context, session *quote.Session) (*quote.Session, error)
}

// Verifier validates the token passed in the query string.
type Verifier interface {
	Verify(token string) (string, error)
}

// Handler upgrades /ws requests and answers client frames.
type Handler struct {
	updater  Updater
	verifier Verifier
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New creates a websocket handler that answers client edits with updater.
func New(updater Updater, verifier Verifier, log *zap.Logger) *Handler {
	return &Handler{
		updater:  updater,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.OrNop(log).With(zap.String("handler", "ws")),
	}
}

// RegisterRoutes mounts the websocket route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("user", user))
	log.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(ctx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", zap.Error(err))
			} else {
				log.Info("websocket disconnected")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		reply := h.handleFrame(ctx, log, raw)
		if err := h.send(conn, reply); err != nil {
			log.Warn("write failed", zap.Error(err))
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, log *zap.Logger, raw []byte) channel.Event {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return channel.ServerError{Message: "malformed frame: " + err.Error()}
	}
	if channel.EventName(frame.Event) != channel.EventQuoteUpdatedClient {
		return channel.UnknownEvent{Event: frame.Event}
	}

	var session quote.Session
	if err := json.Unmarshal(frame.Data, &session); err != nil {
		return channel.ServerError{Message: "invalid session: " + err.Error()}
	}

	updated, err := h.updater.ApplyClientUpdate(ctx, &session)
	if err != nil {
		log.Warn("client update rejected", zap.String("session_id", session.ID), zap.Error(err))
		return channel.ServerError{Message: err.Error()}
	}
	return channel.QuoteUpdated{Session: updated}
}

func (h *Handler) send(conn *websocket.Conn, ev channel.Event) error {
	data, err := channel.Encode(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
