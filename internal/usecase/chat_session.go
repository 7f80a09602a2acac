package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
	"pasarchat/pkg/logger"
)

type SessionState string

const (
	SessionLoading SessionState = "loading"
	SessionReady   SessionState = "ready"
	SessionSending SessionState = "sending"
	SessionError   SessionState = "error"
)

type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// Counterpart is how the other participant is shown in the chat header.
type Counterpart struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url,omitempty"`
}

type SessionMessage struct {
	*entity.Message
	TempID string        `json:"temp_id,omitempty"`
	Status MessageStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// SessionView is a complete rendering of an open conversation.
type SessionView struct {
	State       SessionState     `json:"state"`
	Chat        *entity.Chat     `json:"chat,omitempty"`
	Counterpart *Counterpart     `json:"counterpart,omitempty"`
	Messages    []SessionMessage `json:"messages"`
	Err         error            `json:"-"`
}

type SendInput struct {
	TempID   string
	Text     string
	ImageURL string
}

// poster stores a message under msg.ID and projects it onto the chat.
type poster func(ctx context.Context, senderID, chatID, messageID string, content entity.MessageContent) (*SendResult, error)

// ChatSession is one user's open conversation: the chat header, the live
// message stream, and the sends issued from it that the stream has not
// confirmed yet.
type ChatSession struct {
	selfID   string
	chatID   string
	post     poster
	onChange func(SessionView)

	mu          sync.Mutex
	state       SessionState
	chat        *entity.Chat
	counterpart *Counterpart
	err         error
	confirmed   []*entity.Message
	outbox      []*SessionMessage
	tempIDs     map[string]string
	inFlight    int
	closed      bool

	sub       *watch.Subscription
	closeOnce sync.Once
}

// openSession loads the chat and its counterpart, then follows the message
// stream. The returned session is either Ready or in the terminal Error
// state. onChange runs with the session locked, one view at a time; it must
// not call back into the session.
func openSession(
	ctx context.Context,
	selfID, chatID string,
	record *ChatRecord,
	users repository.UserRepository,
	messages *MessageStore,
	post poster,
	onChange func(SessionView),
) *ChatSession {
	if onChange == nil {
		onChange = func(SessionView) {}
	}
	s := &ChatSession{
		selfID:   selfID,
		chatID:   chatID,
		post:     post,
		onChange: onChange,
		state:    SessionLoading,
		tempIDs:  make(map[string]string),
	}
	s.mu.Lock()
	s.emitLocked()
	s.mu.Unlock()

	chat, counterpart, err := loadSession(ctx, selfID, chatID, record, users)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failLocked(err)
		return s
	}
	s.chat = chat
	s.counterpart = counterpart
	s.state = SessionReady
	s.emitLocked()

	s.sub = messages.Subscribe(context.WithoutCancel(ctx), chatID, s.onMessages)
	go s.watchEnd(s.sub)
	return s
}

func loadSession(ctx context.Context, selfID, chatID string, record *ChatRecord, users repository.UserRepository) (*entity.Chat, *Counterpart, error) {
	chat, err := record.Get(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	otherID, ok := chat.Counterpart(selfID)
	if !ok {
		return nil, nil, errors.Forbidden("You are not a participant of this chat", nil)
	}

	counterpart := &Counterpart{ID: otherID, Name: (&entity.User{}).Label()}
	user, err := users.GetByID(ctx, otherID)
	switch {
	case err == nil:
		counterpart.Name = user.Label()
		counterpart.PhotoURL = user.PhotoURL
	case errors.Is(err, errors.CodeNotFound):
		// No profile document: shown with the generic label.
	default:
		return nil, nil, err
	}
	return chat, counterpart, nil
}

// watchEnd moves the session to Error when the message stream stops on its
// own, which only happens once the store has given up retrying.
func (s *ChatSession) watchEnd(sub *watch.Subscription) {
	<-sub.Done()
	if err := sub.Err(); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			logger.Error("chat session %s for %s lost its message stream: %v", s.chatID, s.selfID, err)
			s.failLocked(err)
		}
	}
}

func (s *ChatSession) onMessages(messages []*entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == SessionError {
		return
	}

	s.confirmed = messages
	streamed := lo.SliceToMap(messages, func(m *entity.Message) (string, struct{}) {
		return m.ID, struct{}{}
	})
	// Once the durable copy arrives, the optimistic entry is replaced by it,
	// even if the append itself reported an error. Only then does its client
	// id move to tempIDs, so the map never outgrows the streamed list.
	s.outbox = lo.Filter(s.outbox, func(m *SessionMessage, _ int) bool {
		if _, ok := streamed[m.ID]; ok {
			s.tempIDs[m.ID] = m.TempID
			return false
		}
		return true
	})
	s.emitLocked()
}

// Send shows the message immediately as pending, stores it, and then marks
// it sent or failed. Sends may overlap; each is matched to the stream by its
// message id. A failed send is not retried.
func (s *ChatSession) Send(ctx context.Context, input SendInput) (*entity.Message, error) {
	content := entity.MessageContent{Text: input.Text, ImageURL: input.ImageURL}
	if content.IsEmpty() {
		return nil, errors.Validation("Message needs text or an image")
	}

	s.mu.Lock()
	if s.closed || (s.state != SessionReady && s.state != SessionSending) {
		s.mu.Unlock()
		return nil, errors.BadRequest("Chat is not open", s.err)
	}

	tempID := input.TempID
	if tempID == "" {
		tempID = uuid.NewString()
	}
	entry := &SessionMessage{
		Message: &entity.Message{
			ID:        NewMessageID(),
			ChatID:    s.chatID,
			SenderID:  s.selfID,
			Text:      content.Text,
			ImageURL:  content.ImageURL,
			CreatedAt: time.Now().UTC(),
		},
		TempID: tempID,
		Status: MessagePending,
	}
	s.outbox = append(s.outbox, entry)
	s.inFlight++
	s.state = SessionSending
	s.emitLocked()
	s.mu.Unlock()

	result, err := s.post(ctx, s.selfID, s.chatID, entry.ID, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.state == SessionSending && s.inFlight == 0 {
		s.state = SessionReady
	}
	if err != nil {
		entry.Status = MessageFailed
		entry.Error = err.Error()
	} else {
		entry.Message = result.Message
		entry.Status = MessageSent
	}
	if !s.closed {
		s.emitLocked()
	}
	if err != nil {
		return nil, err
	}
	return result.Message, nil
}

func (s *ChatSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *ChatSession) ChatID() string {
	return s.chatID
}

// Close releases the message stream. Further calls do nothing.
func (s *ChatSession) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sub := s.sub
		s.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
	})
}

func (s *ChatSession) failLocked(err error) {
	s.state = SessionError
	s.err = err
	s.emitLocked()
}

func (s *ChatSession) emitLocked() {
	s.onChange(s.viewLocked())
}

func (s *ChatSession) viewLocked() SessionView {
	view := SessionView{
		State:       s.state,
		Chat:        s.chat,
		Counterpart: s.counterpart,
		Err:         s.err,
		Messages:    make([]SessionMessage, 0, len(s.confirmed)+len(s.outbox)),
	}

	streamed := make(map[string]struct{}, len(s.confirmed))
	for _, m := range s.confirmed {
		streamed[m.ID] = struct{}{}
		view.Messages = append(view.Messages, SessionMessage{
			Message: m,
			TempID:  s.tempIDs[m.ID],
			Status:  MessageSent,
		})
	}
	for _, m := range s.outbox {
		if _, ok := streamed[m.ID]; ok {
			continue
		}
		view.Messages = append(view.Messages, *m)
	}
	return view
}
