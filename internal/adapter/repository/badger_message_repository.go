package repository

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/pkg/errors"
)

type badgerMessageRepository struct {
	store *BadgerStore
}

func NewBadgerMessageRepository(store *BadgerStore) repository.MessageRepository {
	return &badgerMessageRepository{store: store}
}

// messageKey sorts by creation time within a chat: the timestamp is zero
// padded to 19 digits so lexical order is chronological, and the id breaks
// ties.
func messageKey(m *entity.Message) string {
	return fmt.Sprintf("msg/%s/%019d/%s", m.ChatID, m.CreatedAt.UnixNano(), m.ID)
}

func messagePrefix(chatID string) string {
	return "msg/" + chatID + "/"
}

// messageIDKey points from a message id to its messageKey.
func messageIDKey(chatID, messageID string) string {
	return "mid/" + chatID + "/" + messageID
}

func (r *badgerMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	r.store.appendMu.Lock()
	defer r.store.appendMu.Unlock()

	existed := false
	err := r.store.updateWithRetry(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(messageIDKey(message.ChatID, message.ID)))
		if err == nil {
			// Same id written before: the append is being retried.
			existed = true
			key, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			return getJSON(txn, string(key), message)
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		message.CreatedAt = r.store.now()
		message.Read = false
		key := messageKey(message)
		if err := setJSON(txn, key, message); err != nil {
			return err
		}
		return txn.Set([]byte(messageIDKey(message.ChatID, message.ID)), []byte(key))
	})
	if err != nil {
		return storeError("Failed to create message", err)
	}

	if !existed {
		r.store.broker.Publish(chatMessagesTopic(message.ChatID))
	}
	return nil
}

func (r *badgerMessageRepository) ListByChat(ctx context.Context, chatID string) ([]*entity.Message, error) {
	messages := []*entity.Message{}
	err := r.store.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix(chatID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var message entity.Message
			if err := getJSON(txn, string(it.Item().Key()), &message); err != nil {
				return err
			}
			messages = append(messages, &message)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("Failed to list messages", err)
	}
	return messages, nil
}

func (r *badgerMessageRepository) MarkRead(ctx context.Context, chatID, messageID string) error {
	changed := false
	err := r.store.updateWithRetry(func(txn *badger.Txn) error {
		changed = false
		item, err := txn.Get([]byte(messageIDKey(chatID, messageID)))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		var message entity.Message
		if err := getJSON(txn, string(key), &message); err != nil {
			return err
		}
		if message.Read {
			return nil
		}
		message.Read = true
		changed = true
		return setJSON(txn, string(key), &message)
	})
	if err == badger.ErrKeyNotFound {
		return errors.NotFound("Message", nil)
	}
	if err != nil {
		return storeError("Failed to mark message read", err)
	}

	if changed {
		r.store.broker.Publish(chatMessagesTopic(chatID))
	}
	return nil
}

func (r *badgerMessageRepository) WatchByChat(ctx context.Context, chatID string, fn func([]*entity.Message)) error {
	return r.store.watch(ctx, "messages of "+chatID, chatMessagesTopic(chatID), func() error {
		messages, err := r.ListByChat(ctx, chatID)
		if err != nil {
			return err
		}
		if ctx.Err() == nil {
			fn(messages)
		}
		return nil
	})
}
