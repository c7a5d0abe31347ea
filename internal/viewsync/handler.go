package viewsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const writeTimeout = 10 * time.Second

// Handler upgrades browser connections and streams the transcript to them.
type Handler struct {
	hub            *Hub
	originPatterns []string
}

// NewHandler creates a WebSocket handler for hub. originPatterns is passed to
// websocket.Accept; nil allows same-origin requests only.
func NewHandler(hub *Hub, originPatterns []string) *Handler {
	return &Handler{hub: hub, originPatterns: originPatterns}
}

// RegisterRoutes registers the live view endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/view", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "view closed"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	sub := h.hub.subscribe(uuid.NewString())
	defer h.hub.unsubscribe(sub)

	// The view is read-only; CloseRead discards client frames and cancels ctx
	// when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.queue:
			if err := writeJSON(ctx, ws, msg); err != nil {
				slog.Debug("Failed to write view message", "subscriber_id", sub.id, "error", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
