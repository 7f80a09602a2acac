package usecase

import (
	"context"

	"github.com/google/uuid"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
)

// MessageStore is the append-only log of one chat's messages.
type MessageStore struct {
	messageRepo repository.MessageRepository
}

func NewMessageStore(messageRepo repository.MessageRepository) *MessageStore {
	return &MessageStore{messageRepo: messageRepo}
}

// NewMessageID returns a time-ordered id, so ids minted by one process sort
// the same way as their sends.
func NewMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *MessageStore) Append(ctx context.Context, chatID, senderID string, content entity.MessageContent) (*entity.Message, error) {
	return s.AppendWithID(ctx, "", chatID, senderID, content)
}

// AppendWithID persists a message under a caller-chosen id. Appending the
// same id twice stores one message, which makes a retried append safe.
func (s *MessageStore) AppendWithID(ctx context.Context, id, chatID, senderID string, content entity.MessageContent) (*entity.Message, error) {
	if content.IsEmpty() {
		return nil, errors.Validation("Message needs text or an image")
	}
	if chatID == "" || senderID == "" {
		return nil, errors.Validation("Chat and sender are required")
	}
	if id == "" {
		id = NewMessageID()
	}

	message := &entity.Message{
		ID:       id,
		ChatID:   chatID,
		SenderID: senderID,
		Text:     content.Text,
		ImageURL: content.ImageURL,
	}
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// Subscribe streams the chat's full ordered message list, starting with the
// current snapshot. fn is never called concurrently with itself.
func (s *MessageStore) Subscribe(ctx context.Context, chatID string, fn func([]*entity.Message)) *watch.Subscription {
	return watch.Start(ctx, func(ctx context.Context) error {
		return s.messageRepo.WatchByChat(ctx, chatID, fn)
	})
}

func (s *MessageStore) List(ctx context.Context, chatID string) ([]*entity.Message, error) {
	return s.messageRepo.ListByChat(ctx, chatID)
}

func (s *MessageStore) MarkRead(ctx context.Context, chatID, messageID string) error {
	return s.messageRepo.MarkRead(ctx, chatID, messageID)
}
