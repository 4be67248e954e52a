package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"emotion-comfort/internal/hub"
	"emotion-comfort/internal/service"
)

// WebSocketHandler upgrades authenticated requests and hands the
// connection to the hub. Which session the connection belongs to is
// decided later by join events, not by the URL.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	live     *service.LiveService
}

// NewWebSocketHandler creates a WebSocketHandler.
func NewWebSocketHandler(h *hub.Hub, live *service.LiveService) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if live == nil {
		panic("LiveService cannot be nil for WebSocketHandler")
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict origins once the client domains are fixed
				return true
			},
		},
		hub:  h,
		live: live,
	}
}

// HandleConnection handles GET /ws/live.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logrus.Warn("WS Handler: user id not in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logrus.Error("WS Handler: user id in context is not uint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade writes its own HTTP error response.
		logCtx.WithError(err).Error("WS Handler: failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, h.live, conn, userID)
	h.hub.Register(client)
	client.Run()
	logCtx.Info("WS Handler: connection upgraded and client started")
}
