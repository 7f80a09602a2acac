package router

import (
	"github.com/labstack/echo/v4"

	"pasarchat/internal/adapter/api/handler"
	"pasarchat/internal/adapter/api/middleware"
)

// Setup registers every route. handler.Setup must have run first.
func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	SetupChatRouter(e, handler.GetChatHandler(), authMiddleware)
	SetupWebSocketRouter(e, handler.GetWebSocketHandler())
	SetupHealthRouter(e)
}
