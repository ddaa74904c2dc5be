package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket wraps a gorilla connection with the deadlines and limits
// the chat edge needs. Pong receipt extends the read deadline, so a
// peer that stops answering pings is detected by the next read.
type WebSocket struct {
	*websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	writeWait time.Duration
	pongWait  time.Duration
	readLimit int64
}

func NewWebSocket(parent context.Context, conn *websocket.Conn, writeWait, pongWait time.Duration, readLimit int64) *WebSocket {
	ctx, cancel := context.WithCancel(parent)
	return &WebSocket{
		Conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		writeWait: writeWait,
		pongWait:  pongWait,
		readLimit: readLimit,
	}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	w.Conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) WritePing() error {
	return w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeWait))
}

// ReadLoop delivers each inbound frame to onMsg until the connection
// errors or closes, then cleans up.
func (w *WebSocket) ReadLoop(onMsg func([]byte)) {
	defer w.Close()

	w.Conn.SetReadLimit(w.readLimit)
	w.Conn.SetReadDeadline(time.Now().Add(w.pongWait))
	w.Conn.SetPongHandler(func(string) error {
		return w.Conn.SetReadDeadline(time.Now().Add(w.pongWait))
	})

	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("unexpected close error", "error", err)
			}
			break
		}
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Close() {
	w.cancel()
	_ = w.Conn.Close()
}
