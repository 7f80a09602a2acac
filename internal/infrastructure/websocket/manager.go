package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/internal/usecase"
	"pasarchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// ChatService is the part of the chat use case a live connection drives.
type ChatService interface {
	ListMyChats(ctx context.Context, selfID string, fn func([]*entity.Chat)) (*watch.Subscription, error)
	Inbox(ctx context.Context, selfID string, chats []*entity.Chat) []*usecase.InboxEntry
	OpenChat(ctx context.Context, selfID, chatID string, onChange func(usecase.SessionView)) *usecase.ChatSession
	MarkRead(ctx context.Context, selfID, chatID, messageID string) error
}

// Client is one WebSocket connection and the live views it holds.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inbox    *watch.Subscription
	sessions map[string]*usecase.ChatSession
	once     sync.Once
}

func newClient(userID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*usecase.ChatSession),
	}
}

// enqueue never blocks: it runs inside subscription callbacks. A client that
// cannot keep up is disconnected and will resnapshot when it reconnects.
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.Send <- message:
		return true
	default:
		logger.Warn("WebSocket: client %s send buffer full, closing connection", c.UserID)
		go c.Conn.Close()
		return false
	}
}

// release drops every subscription the connection holds, exactly once.
func (c *Client) release() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		inbox := c.inbox
		sessions := c.sessions
		c.inbox = nil
		c.sessions = map[string]*usecase.ChatSession{}
		close(c.Send)
		c.mu.Unlock()

		c.cancel()
		if inbox != nil {
			inbox.Unsubscribe()
		}
		for _, session := range sessions {
			session.Close()
		}
	})
}

// Manager manages all active WebSocket connections
type Manager struct {
	chats      ChatService
	clients    map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
}

func NewManager(chats ChatService) *Manager {
	return &Manager{
		chats:      chats,
		clients:    make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Start runs the manager's main loop in a goroutine. When ctx is done every
// connection is closed.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if m.clients[client.UserID] == nil {
					m.clients[client.UserID] = make(map[*Client]struct{})
				}
				m.clients[client.UserID][client] = struct{}{}
				m.mutex.Unlock()
				logger.Info("Client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.remove(client)
				logger.Info("Client unregistered: %s", client.UserID)

			case <-ctx.Done():
				m.mutex.Lock()
				all := m.clients
				m.clients = make(map[string]map[*Client]struct{})
				m.mutex.Unlock()
				for _, conns := range all {
					for client := range conns {
						client.release()
						client.Conn.Close()
					}
				}
				return
			}
		}
	}()
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	if conns, ok := m.clients[client.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(m.clients, client.UserID)
		}
	}
	m.mutex.Unlock()
	client.release()
}

// Connections counts open sockets.
func (m *Manager) Connections() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	n := 0
	for _, conns := range m.clients {
		n += len(conns)
	}
	return n
}

// Serve takes over an upgraded connection for userID and returns once its
// pumps are running.
func (m *Manager) Serve(userID string, conn *websocket.Conn) {
	client := newClient(userID, conn)
	select {
	case m.Register <- client:
	case <-m.done:
		client.release()
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(m)
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		select {
		case m.Unregister <- c:
		case <-m.done:
			c.release()
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket: read from %s failed: %v", c.UserID, err)
			}
			break
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error("WebSocket: write to %s failed: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
