package repository

import (
	"context"

	"pasarchat/internal/domain/entity"
)

type ChatRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Chat, error)

	// CreateIfAbsent stores chat under chat.ID unless a document already
	// exists there, and returns whatever is stored afterwards. Concurrent
	// callers with the same id all get the same chat back.
	CreateIfAbsent(ctx context.Context, chat *entity.Chat) (*entity.Chat, error)

	// UpdateLastMessage sets lastMessage and bumps lastMessageAt/updatedAt
	// to the store's clock.
	UpdateLastMessage(ctx context.Context, chatID, preview string) error

	// ListByParticipant returns the user's chats, most recently updated first.
	ListByParticipant(ctx context.Context, userID string) ([]*entity.Chat, error)

	// WatchByParticipant calls fn with the full ListByParticipant result now
	// and after every change to one of the user's chats. It blocks until ctx
	// is done or the store gives up, and never calls fn concurrently.
	WatchByParticipant(ctx context.Context, userID string, fn func([]*entity.Chat)) error
}
