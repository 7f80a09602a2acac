package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	ws "pasarchat/internal/infrastructure/websocket"
)

type HealthHandler struct {
	wsManager *ws.Manager
	backend   string
}

func NewHealthHandler(wsManager *ws.Manager, backend string) *HealthHandler {
	return &HealthHandler{
		wsManager: wsManager,
		backend:   backend,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"store":       h.backend,
		"connections": h.wsManager.Connections(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}
