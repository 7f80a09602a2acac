package handler

import (
	"github.com/labstack/echo/v4"

	"pasarchat/internal/adapter/api/middleware"
	"pasarchat/internal/usecase"
	"pasarchat/pkg/errors"
	"pasarchat/pkg/response"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type startChatRequest struct {
	CounterpartID   string `json:"counterpart_id" validate:"required"`
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name" validate:"max=200"`
	ProductImageURL string `json:"product_image_url" validate:"omitempty,url"`
}

type sendMessageRequest struct {
	Text     string `json:"text" validate:"max=4000"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
}

// StartChat returns the chat with the counterpart about the product,
// creating it on first contact.
func (h *ChatHandler) StartChat(c echo.Context) error {
	var req startChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	chat, err := h.chatUseCase.StartOrResumeChat(c.Request().Context(), middleware.UserID(c), usecase.StartChatInput{
		CounterpartID:   req.CounterpartID,
		ProductID:       req.ProductID,
		ProductName:     req.ProductName,
		ProductImageURL: req.ProductImageURL,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, chat)
}

// GetUserChats lists the caller's chats, most recently active first.
func (h *ChatHandler) GetUserChats(c echo.Context) error {
	entries, err := h.chatUseCase.ListChats(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, entries)
}

func (h *ChatHandler) GetChatByID(c echo.Context) error {
	chat, err := h.chatUseCase.GetChat(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, chat)
}

func (h *ChatHandler) GetChatMessages(c echo.Context) error {
	messages, err := h.chatUseCase.ListMessages(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, messages)
}

// SendMessage stores a message. summary_stale in the result means the inbox
// preview for this chat lags behind until the next send.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	result, err := h.chatUseCase.SendMessage(c.Request().Context(), middleware.UserID(c), c.Param("id"), usecase.SendMessageInput{
		Text:     req.Text,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, result)
}

func (h *ChatHandler) MarkMessageAsRead(c echo.Context) error {
	err := h.chatUseCase.MarkRead(c.Request().Context(), middleware.UserID(c), c.Param("id"), c.Param("messageId"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message_id": c.Param("messageId"), "status": "read"})
}
