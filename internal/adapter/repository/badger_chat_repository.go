package repository

import (
	"context"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/pkg/errors"
)

type badgerChatRepository struct {
	store *BadgerStore
}

func NewBadgerChatRepository(store *BadgerStore) repository.ChatRepository {
	return &badgerChatRepository{store: store}
}

func chatKey(id string) string {
	return "chat/" + id
}

// userChatKey indexes a chat id under a participant; the value is empty.
func userChatKey(userID, chatID string) string {
	return "uchat/" + userID + "/" + chatID
}

func (r *badgerChatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	var chat entity.Chat
	err := r.store.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chatKey(id), &chat)
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NotFound("Chat", nil)
	}
	if err != nil {
		return nil, storeError("Failed to get chat", err)
	}
	return &chat, nil
}

func (r *badgerChatRepository) CreateIfAbsent(ctx context.Context, chat *entity.Chat) (*entity.Chat, error) {
	var stored entity.Chat
	created := false

	err := r.store.updateWithRetry(func(txn *badger.Txn) error {
		created = false
		err := getJSON(txn, chatKey(chat.ID), &stored)
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		now := r.store.now()
		stored = *chat
		stored.Participants = append([]string(nil), chat.Participants...)
		stored.CreatedAt = now
		stored.UpdatedAt = now
		stored.LastMessageAt = now

		if err := setJSON(txn, chatKey(stored.ID), &stored); err != nil {
			return err
		}
		for _, p := range stored.Participants {
			if err := txn.Set([]byte(userChatKey(p, stored.ID)), nil); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, storeError("Failed to create chat", err)
	}

	if created {
		r.publish(&stored)
	}
	return &stored, nil
}

func (r *badgerChatRepository) UpdateLastMessage(ctx context.Context, chatID, preview string) error {
	var chat entity.Chat
	err := r.store.updateWithRetry(func(txn *badger.Txn) error {
		if err := getJSON(txn, chatKey(chatID), &chat); err != nil {
			return err
		}
		now := r.store.now()
		chat.LastMessage = preview
		chat.LastMessageAt = now
		chat.UpdatedAt = now
		return setJSON(txn, chatKey(chatID), &chat)
	})
	if err == badger.ErrKeyNotFound {
		return errors.NotFound("Chat", nil)
	}
	if err != nil {
		return storeError("Failed to update chat summary", err)
	}

	r.publish(&chat)
	return nil
}

func (r *badgerChatRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.Chat, error) {
	chats := []*entity.Chat{}
	err := r.store.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userChatKey(userID, ""))
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}

		for _, id := range ids {
			var chat entity.Chat
			err := getJSON(txn, chatKey(id), &chat)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			chats = append(chats, &chat)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("Failed to list chats", err)
	}

	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (r *badgerChatRepository) WatchByParticipant(ctx context.Context, userID string, fn func([]*entity.Chat)) error {
	return r.store.watch(ctx, "chats of "+userID, userChatsTopic(userID), func() error {
		chats, err := r.ListByParticipant(ctx, userID)
		if err != nil {
			return err
		}
		if ctx.Err() == nil {
			fn(chats)
		}
		return nil
	})
}

func (r *badgerChatRepository) publish(chat *entity.Chat) {
	topics := make([]string, 0, len(chat.Participants))
	for _, p := range chat.Participants {
		topics = append(topics, userChatsTopic(p))
	}
	r.store.broker.Publish(topics...)
}
