// Websocket connect handler - authenticates and hands the session to the hub.
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/signaldesk/signaldesk/pkg/auth"
	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/service"
	"github.com/signaldesk/signaldesk/pkg/ws"
)

// WSHandler upgrades authenticated requests to websocket sessions.
type WSHandler struct {
	hub      *ws.Hub
	chat     *service.ChatService
	store    *db.Store
	verifier *auth.Verifier
	upgrader *websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates the connect handler.
func NewWSHandler(hub *ws.Hub, chat *service.ChatService, store *db.Store, verifier *auth.Verifier, upgrader *websocket.Upgrader, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		chat:     chat,
		store:    store,
		verifier: verifier,
		upgrader: upgrader,
		logger:   logger,
	}
}

// RegisterRoutes registers the websocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.Connect)
}

// Connect authenticates the bearer token and upgrades the connection. A bad
// or missing token is refused with 401 before any room state exists.
func (h *WSHandler) Connect(c *gin.Context) {
	userID, err := h.verifier.Verify(BearerToken(c))
	if err != nil {
		h.logger.Warn("websocket auth refused", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	user, err := h.store.GetUser(userID)
	if err != nil {
		h.logger.Warn("websocket auth refused, unknown user", "user", userID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", "user", user.ID, "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn, h.chat, user.ID, user.Name, user.Avatar)
	client.Run()
}

// BearerToken extracts the credential from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query param.
func BearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
