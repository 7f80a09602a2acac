package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"pasarchat/internal/adapter/api/middleware"
	ws "pasarchat/internal/infrastructure/websocket"
	"pasarchat/pkg/errors"
	"pasarchat/pkg/logger"
	"pasarchat/pkg/response"
)

type WebSocketHandler struct {
	wsManager      *ws.Manager
	authMiddleware *middleware.AuthMiddleware
	upgrader       gorillaws.Upgrader
}

// NewWebSocketHandler accepts any origin when allowedOrigins is empty.
func NewWebSocketHandler(wsManager *ws.Manager, authMiddleware *middleware.AuthMiddleware, allowedOrigins []string) *WebSocketHandler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = struct{}{}
	}

	return &WebSocketHandler{
		wsManager:      wsManager,
		authMiddleware: authMiddleware,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// HandleWebSocket authenticates with ?token= because browsers cannot set
// headers on a WebSocket handshake.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID, err := h.authMiddleware.GetUIDFromToken(c, c.QueryParam("token"))
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket: upgrade for %s failed: %v", userID, err)
		return errors.BadRequest("Failed to upgrade connection", err)
	}

	h.wsManager.Serve(userID, conn)
	return nil
}
