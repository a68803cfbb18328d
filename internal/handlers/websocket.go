package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thereayou/roomkit/internal/handlers/dto"
	"github.com/thereayou/roomkit/internal/rooms"
	ws "github.com/thereayou/roomkit/internal/websocket"
)

type WebSocketHandler struct {
	hub         *ws.Hub
	coordinator *rooms.Coordinator
	upgrader    websocket.Upgrader
	log         *slog.Logger
}

// NewWebSocketHandler accepts handshakes from allowedOrigins; "*" or an empty list allows any.
func NewWebSocketHandler(hub *ws.Hub, coordinator *rooms.Coordinator, allowedOrigins []string, l *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: l.With("component", "websocket_http"),
	}
}

// HandleWebSocket runs behind WSAuthMiddleware, so the user is already known.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	h.hub.Register(client)
	h.coordinator.Connect(c.Request.Context(), client)

	go client.WritePump()
	go client.ReadPump(h.coordinator)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		if set[strings.ToLower(origin)] {
			return true
		}
		// Same-origin pages are always fine.
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
