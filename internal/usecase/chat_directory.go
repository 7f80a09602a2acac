package usecase

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
)

// ChatDirectory lists a user's conversations, most recently active first.
type ChatDirectory struct {
	chatRepo repository.ChatRepository
}

func NewChatDirectory(chatRepo repository.ChatRepository) *ChatDirectory {
	return &ChatDirectory{chatRepo: chatRepo}
}

// Subscribe delivers the user's complete ordered chat list now and after
// every change to any of those chats. A user without chats gets an empty
// list.
func (d *ChatDirectory) Subscribe(ctx context.Context, userID string, fn func([]*entity.Chat)) (*watch.Subscription, error) {
	if userID == "" {
		return nil, errors.Validation("User id is required")
	}

	return watch.Start(ctx, func(ctx context.Context) error {
		return d.chatRepo.WatchByParticipant(ctx, userID, func(chats []*entity.Chat) {
			fn(visibleTo(userID, chats))
		})
	}), nil
}

func (d *ChatDirectory) List(ctx context.Context, userID string) ([]*entity.Chat, error) {
	if userID == "" {
		return nil, errors.Validation("User id is required")
	}

	chats, err := d.chatRepo.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	return visibleTo(userID, chats), nil
}

// visibleTo drops anything the user is not part of and orders by recency.
// Stores already do both; this keeps the guarantee independent of them.
func visibleTo(userID string, chats []*entity.Chat) []*entity.Chat {
	out := lo.Filter(chats, func(chat *entity.Chat, _ int) bool {
		return chat.HasParticipant(userID)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
