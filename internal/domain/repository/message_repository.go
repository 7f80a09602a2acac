package repository

import (
	"context"

	"pasarchat/internal/domain/entity"
)

type MessageRepository interface {
	// Create persists message under message.ID. The store assigns CreatedAt
	// and stores Read as false.
	Create(ctx context.Context, message *entity.Message) error

	// ListByChat returns the chat's messages ordered by CreatedAt ascending,
	// ties broken by insertion order.
	ListByChat(ctx context.Context, chatID string) ([]*entity.Message, error)

	MarkRead(ctx context.Context, chatID, messageID string) error

	// WatchByChat follows the same contract as ChatRepository.WatchByParticipant.
	WatchByChat(ctx context.Context, chatID string, fn func([]*entity.Message)) error
}
