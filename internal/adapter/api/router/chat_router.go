package router

import (
	"github.com/labstack/echo/v4"

	"pasarchat/internal/adapter/api/handler"
	"pasarchat/internal/adapter/api/middleware"
)

func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.POST("", chatHandler.StartChat)      // POST /v1/chats - Start or resume a chat
	chatGroup.GET("", chatHandler.GetUserChats)    // GET /v1/chats - Caller's inbox
	chatGroup.GET("/:id", chatHandler.GetChatByID) // GET /v1/chats/:id

	chatGroup.GET("/:id/messages", chatHandler.GetChatMessages)
	chatGroup.POST("/:id/messages", chatHandler.SendMessage)
	chatGroup.PUT("/:id/messages/:messageId/read", chatHandler.MarkMessageAsRead)
}
