package handler

import (
	"pasarchat/internal/adapter/api/middleware"
	ws "pasarchat/internal/infrastructure/websocket"
	"pasarchat/internal/usecase"
)

var (
	chatHandler      *ChatHandler
	webSocketHandler *WebSocketHandler
	healthHandler    *HealthHandler
)

func Setup(
	chatUseCase *usecase.ChatUseCase,
	wsManager *ws.Manager,
	authMiddleware *middleware.AuthMiddleware,
	allowedOrigins []string,
	backend string,
) {
	chatHandler = NewChatHandler(chatUseCase)
	webSocketHandler = NewWebSocketHandler(wsManager, authMiddleware, allowedOrigins)
	healthHandler = NewHealthHandler(wsManager, backend)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
