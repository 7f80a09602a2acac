package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
)

// BadgerStore is the embedded document store behind the badger
// repositories. It plays the part Firestore plays in production: it owns
// the clock used for server timestamps and notifies live queries after each
// committed write.
type BadgerStore struct {
	db     *badger.DB
	broker *watch.Broker
	policy watch.Policy

	clockMu sync.Mutex
	last    time.Time

	// appendMu serializes message writes so timestamps follow commit order.
	appendMu sync.Mutex
}

func NewBadgerStore(db *badger.DB, policy watch.Policy) *BadgerStore {
	return &BadgerStore{
		db:     db,
		broker: watch.NewBroker(),
		policy: policy,
	}
}

// now returns a strictly increasing UTC timestamp.
func (s *BadgerStore) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := time.Now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func userChatsTopic(userID string) string {
	return "user-chats/" + userID
}

func chatMessagesTopic(chatID string) string {
	return "chat-messages/" + chatID
}

// watch delivers load's result now and again after every publish on topic.
func (s *BadgerStore) watch(ctx context.Context, name, topic string, deliver func() error) error {
	return watch.Loop(ctx, s.policy, name, func(ctx context.Context, healthy func()) error {
		l := s.broker.Listen(topic)
		defer l.Close()

		for {
			if err := deliver(); err != nil {
				return err
			}
			healthy()

			select {
			case <-ctx.Done():
				return nil
			case <-l.C():
			}
		}
	})
}

func getJSON(txn *badger.Txn, key string, v interface{}) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Internal("Failed to encode document", err)
	}
	return txn.Set([]byte(key), data)
}

// storeError classifies a badger failure. Encoding problems are permanent;
// everything else is treated as a transient store failure.
func storeError(message string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return errors.Internal(message, err)
	}
	return errors.TransientStore(message, err)
}

// updateWithRetry reruns fn when a concurrent transaction wins the commit.
func (s *BadgerStore) updateWithRetry(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = s.db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
