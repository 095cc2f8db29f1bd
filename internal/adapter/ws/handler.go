package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tabares32/shipping-backend/internal/app"
	"github.com/Tabares32/shipping-backend/internal/domain"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

// Client message types.
const (
	msgPing  = "ping"
	msgPong  = "pong"
	msgError = "error"
)

type clientMessage struct {
	Type  string       `json:"type"`
	Key   string       `json:"key"`
	Value domain.Value `json:"value"`
}

type serverMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// Options configures a Handler.
type Options struct {
	// CheckOrigin decides whether an upgrade request's Origin is allowed.
	CheckOrigin func(r *http.Request) bool
	// CanWrite decides whether the connection may send storage_update
	// messages. Nil allows every connection.
	CanWrite func(r *http.Request) bool
}

// Handler upgrades requests to WebSockets and attaches them to a Hub.
type Handler struct {
	hub      *Hub
	storage  *app.StorageService
	upgrader websocket.Upgrader
	canWrite func(r *http.Request) bool
	log      logging.Logger
}

// NewHandler creates a WebSocket endpoint. Clients may send
// {"type":"ping"} and {"type":"storage_update","key":...,"value":...}.
func NewHandler(hub *Hub, storage *app.StorageService, opts Options, log logging.Logger) *Handler {
	canWrite := opts.CanWrite
	if canWrite == nil {
		canWrite = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:     hub,
		storage: storage,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		canWrite: canWrite,
		log:      log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.log.Debug(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	writable := h.canWrite(r)

	sub := h.hub.subscribe()
	defer h.hub.unsubscribe(sub)
	go h.writePump(conn, sub)

	// Storage writes outlive the upgrade request.
	ctx := context.WithoutCancel(r.Context())
	h.readPump(ctx, conn, sub, writable)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, sub *subscriber, writable bool) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug(ctx, "websocket closed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(sub, serverMessage{Type: msgError, Error: "invalid json"})
			continue
		}

		switch msg.Type {
		case msgPing:
			h.reply(sub, serverMessage{Type: msgPong})
		case domain.EventStorageUpdate:
			if !writable {
				h.reply(sub, serverMessage{Type: msgError, Error: "unauthenticated"})
				continue
			}
			// Set broadcasts the update to every subscriber, this one included.
			if _, err := h.storage.Set(ctx, msg.Key, msg.Value); err != nil {
				h.reply(sub, serverMessage{Type: msgError, Error: publicError(err)})
			}
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.hub.unsubscribe(sub)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.hub.unsubscribe(sub)
				return
			}
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Handler) reply(sub *subscriber, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	sub.trySend(data)
}

func publicError(err error) string {
	switch {
	case errors.Is(err, app.ErrBadRequest):
		return err.Error()
	case errors.Is(err, app.ErrStorageUnavailable):
		return "storage unavailable"
	default:
		return "internal error"
	}
}
