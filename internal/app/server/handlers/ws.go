package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alexgthegreat/StudySync-22/internal/app/server/ws"
	"github.com/alexgthegreat/StudySync-22/internal/config"
	"github.com/alexgthegreat/StudySync-22/internal/core/services"
	"github.com/alexgthegreat/StudySync-22/pkg/logging"
	"github.com/alexgthegreat/StudySync-22/pkg/middleware"
)

// WSHandler is the connection-acceptance layer: it upgrades the HTTP
// request, builds the live-connection handle, and feeds inbound
// envelopes to the chat router. All registry state is torn down before
// the handler returns.
type WSHandler struct {
	chat *services.ChatService
	cfg  *config.ChatConfig
}

func NewWSHandler(chat *services.ChatService, cfg *config.ChatConfig) *WSHandler {
	return &WSHandler{
		chat: chat,
		cfg:  cfg,
	}
}

func (h *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		log.ErrorContext(r.Context(), "ws handler - unauthorised missing user_id")
		http.Error(w, "Unauthorized: user id missing", http.StatusUnauthorized)
		return
	}
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int64("user.id", userID))

	// The connection outlives the HTTP request span.
	sessionCtx := context.WithoutCancel(r.Context())
	ctx, cancel := context.WithCancel(sessionCtx)
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // tighten later
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade failed", logging.Err(err))
		return
	}
	conn.SetCloseHandler(func(code int, text string) error {
		cancel()
		return nil
	})

	sock := ws.NewWebSocket(ctx, conn, h.cfg.WriteWait, h.cfg.PongWait, h.cfg.ReadLimit)
	client := ws.NewClient(ctx, sock, userID, h.cfg.SendBuffer, h.cfg.PingInterval)
	log = log.With(logging.User(userID), logging.Conn(client.ID()))
	// Cleanup is synchronous with connection teardown: a closed
	// connection must not stay addressable in the registry.
	defer func() {
		h.chat.Disconnect(client)
		client.Close()
	}()
	log.Info("ws handler - connection established")

	// Envelopes are handled in arrival order on this goroutine so one
	// sender's messages broadcast in the order they were persisted.
	sock.ReadLoop(func(data []byte) {
		_ = h.chat.HandleEnvelope(ctx, client, data)
	})
	log.Info("ws handler - connection closed")
}
