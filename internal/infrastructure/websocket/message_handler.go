package websocket

import (
	"encoding/json"
	"time"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/usecase"
	"pasarchat/pkg/errors"
	"pasarchat/pkg/logger"
)

// WebSocket Message Types
const (
	MessageTypePing             = "ping"
	MessageTypePong             = "pong"
	MessageTypeSubscribeInbox   = "subscribe_inbox"
	MessageTypeUnsubscribeInbox = "unsubscribe_inbox"
	MessageTypeJoinChat         = "join_chat"
	MessageTypeLeaveChat        = "leave_chat"
	MessageTypeSendMessage      = "send_message"
	MessageTypeMarkRead         = "mark_read"

	MessageTypeInbox   = "inbox"
	MessageTypeSession = "session"
	MessageTypeError   = "error"
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type SendMessageData struct {
	TempID   string `json:"temp_id"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

type MarkReadData struct {
	MessageID string `json:"message_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"temp_id,omitempty"`
}

// SessionData is a full rendering of a joined chat.
type SessionData struct {
	usecase.SessionView
	Error *ErrorData `json:"error,omitempty"`
}

// HandleClientMessage processes incoming WebSocket messages
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var wsMessage WSMessage
	if err := json.Unmarshal(messageBytes, &wsMessage); err != nil {
		logger.Warn("WebSocket: Failed to unmarshal message from client %s: %v", client.UserID, err)
		m.sendError(client, "", errors.BadRequest("Invalid message format", err), "")
		return
	}

	logger.Debug("WebSocket: Received message type '%s' from client %s", wsMessage.Type, client.UserID)

	switch wsMessage.Type {
	case MessageTypePing:
		m.send(client, MessageTypePong, "", map[string]string{"status": "alive"})

	case MessageTypeSubscribeInbox:
		m.handleSubscribeInbox(client)

	case MessageTypeUnsubscribeInbox:
		m.handleUnsubscribeInbox(client)

	case MessageTypeJoinChat:
		m.handleJoinChat(client, wsMessage.ChatID)

	case MessageTypeLeaveChat:
		m.handleLeaveChat(client, wsMessage.ChatID)

	case MessageTypeSendMessage:
		m.handleSendMessage(client, wsMessage)

	case MessageTypeMarkRead:
		m.handleMarkRead(client, wsMessage)

	default:
		logger.Warn("WebSocket: Unknown message type '%s' from client %s", wsMessage.Type, client.UserID)
		m.sendError(client, wsMessage.ChatID, errors.BadRequest("Unknown message type", nil), "")
	}
}

func (m *Manager) handleSubscribeInbox(client *Client) {
	sub, err := m.chats.ListMyChats(client.ctx, client.UserID, func(chats []*entity.Chat) {
		m.send(client, MessageTypeInbox, "", m.chats.Inbox(client.ctx, client.UserID, chats))
	})
	if err != nil {
		m.sendError(client, "", err, "")
		return
	}

	client.mu.Lock()
	previous := client.inbox
	if client.closed {
		client.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	client.inbox = sub
	client.mu.Unlock()

	if previous != nil {
		previous.Unsubscribe()
	}
}

func (m *Manager) handleUnsubscribeInbox(client *Client) {
	client.mu.Lock()
	sub := client.inbox
	client.inbox = nil
	client.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (m *Manager) handleJoinChat(client *Client, chatID string) {
	if chatID == "" {
		m.sendError(client, "", errors.Validation("Missing chat_id"), "")
		return
	}

	client.mu.Lock()
	existing, joined := client.sessions[chatID]
	client.mu.Unlock()
	if joined {
		m.sendSession(client, chatID, existing.View())
		return
	}

	session := m.chats.OpenChat(client.ctx, client.UserID, chatID, func(view usecase.SessionView) {
		m.sendSession(client, chatID, view)
	})
	if session.View().State == usecase.SessionError {
		// The terminal view has been sent; nothing stays open.
		session.Close()
		return
	}

	client.mu.Lock()
	if client.closed {
		client.mu.Unlock()
		session.Close()
		return
	}
	if other, ok := client.sessions[chatID]; ok {
		client.mu.Unlock()
		session.Close()
		m.sendSession(client, chatID, other.View())
		return
	}
	client.sessions[chatID] = session
	client.mu.Unlock()

	logger.Info("WebSocket: Client %s joined chat %s", client.UserID, chatID)
}

func (m *Manager) handleLeaveChat(client *Client, chatID string) {
	client.mu.Lock()
	session, ok := client.sessions[chatID]
	delete(client.sessions, chatID)
	client.mu.Unlock()

	if ok {
		session.Close()
		logger.Info("WebSocket: Client %s left chat %s", client.UserID, chatID)
	}
}

func (m *Manager) handleSendMessage(client *Client, wsMessage WSMessage) {
	var data SendMessageData
	if err := json.Unmarshal(wsMessage.Data, &data); err != nil {
		m.sendError(client, wsMessage.ChatID, errors.BadRequest("Invalid send message format", err), "")
		return
	}

	client.mu.Lock()
	session, ok := client.sessions[wsMessage.ChatID]
	client.mu.Unlock()
	if !ok {
		m.sendError(client, wsMessage.ChatID, errors.BadRequest("Join the chat before sending", nil), data.TempID)
		return
	}

	// Sends run alongside further reads so that several can be in flight.
	go func() {
		_, err := session.Send(client.ctx, usecase.SendInput{
			TempID:   data.TempID,
			Text:     data.Text,
			ImageURL: data.ImageURL,
		})
		if err != nil {
			m.sendError(client, wsMessage.ChatID, err, data.TempID)
		}
	}()
}

func (m *Manager) handleMarkRead(client *Client, wsMessage WSMessage) {
	var data MarkReadData
	if err := json.Unmarshal(wsMessage.Data, &data); err != nil {
		m.sendError(client, wsMessage.ChatID, errors.BadRequest("Invalid mark read format", err), "")
		return
	}

	if err := m.chats.MarkRead(client.ctx, client.UserID, wsMessage.ChatID, data.MessageID); err != nil {
		m.sendError(client, wsMessage.ChatID, err, "")
	}
}

func (m *Manager) sendSession(client *Client, chatID string, view usecase.SessionView) {
	payload := SessionData{SessionView: view}
	if view.Err != nil {
		payload.Error = errorData(view.Err, "")
	}
	m.send(client, MessageTypeSession, chatID, payload)
}

func (m *Manager) send(client *Client, messageType, chatID string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Error("WebSocket: Failed to marshal %s for client %s: %v", messageType, client.UserID, err)
		return
	}

	messageBytes, err := json.Marshal(WSMessage{
		Type:      messageType,
		ChatID:    chatID,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("WebSocket: Failed to marshal envelope for client %s: %v", client.UserID, err)
		return
	}

	client.enqueue(messageBytes)
}

func (m *Manager) sendError(client *Client, chatID string, err error, tempID string) {
	m.send(client, MessageTypeError, chatID, errorData(err, tempID))
}

func errorData(err error, tempID string) *ErrorData {
	data := &ErrorData{Code: errors.CodeInternal, Message: "Internal server error", TempID: tempID}
	if appErr, ok := errors.AsAppError(err); ok {
		data.Code = appErr.Code
		data.Message = appErr.Message
	}
	return data
}
