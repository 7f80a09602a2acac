package repository

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/pkg/errors"
)

type badgerUserRepository struct {
	store *BadgerStore
}

func NewBadgerUserRepository(store *BadgerStore) repository.UserRepository {
	return &badgerUserRepository{store: store}
}

func userKey(id string) string {
	return "user/" + id
}

func (r *badgerUserRepository) Create(ctx context.Context, user *entity.User) error {
	err := r.store.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(user.ID), user)
	})
	return storeError("Failed to create user", err)
}

func (r *badgerUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.store.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &user)
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NotFound("User", nil)
	}
	if err != nil {
		return nil, storeError("Failed to get user", err)
	}
	return &user, nil
}
