package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
)

const messagesCollection = "messages"

type firestoreMessageRepository struct {
	client *firestore.Client
	policy watch.Policy
}

func NewFirestoreMessageRepository(client *firestore.Client, policy watch.Policy) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
		policy: policy,
	}
}

func (r *firestoreMessageRepository) messages(chatID string) *firestore.CollectionRef {
	return r.client.Collection(chatsCollection).Doc(chatID).Collection(messagesCollection)
}

// Create leaves CreatedAt zero so the serverTimestamp tag makes Firestore
// stamp it. Message ids are time ordered, so the implicit document-name
// ordering breaks createdAt ties by insertion.
func (r *firestoreMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	message.Read = false
	message.CreatedAt = time.Time{}

	ref := r.messages(message.ChatID).Doc(message.ID)
	wr, err := ref.Create(ctx, message)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			doc, err := ref.Get(ctx)
			if err != nil {
				return firestoreError("Failed to read existing message", err)
			}
			if err := doc.DataTo(message); err != nil {
				return errors.Internal("Failed to parse message data", err)
			}
			message.ID = doc.Ref.ID
			return nil
		}
		return firestoreError("Failed to create message", err)
	}

	message.CreatedAt = wr.UpdateTime
	return nil
}

func (r *firestoreMessageRepository) orderedQuery(chatID string) firestore.Query {
	return r.messages(chatID).OrderBy("createdAt", firestore.Asc)
}

func (r *firestoreMessageRepository) ListByChat(ctx context.Context, chatID string) ([]*entity.Message, error) {
	docs, err := r.orderedQuery(chatID).Documents(ctx).GetAll()
	if err != nil {
		return nil, firestoreError("Failed to list messages", err)
	}
	return decodeMessages(docs)
}

func (r *firestoreMessageRepository) MarkRead(ctx context.Context, chatID, messageID string) error {
	_, err := r.messages(chatID).Doc(messageID).Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Message", nil)
		}
		return firestoreError("Failed to mark message read", err)
	}
	return nil
}

func (r *firestoreMessageRepository) WatchByChat(ctx context.Context, chatID string, fn func([]*entity.Message)) error {
	return watchQuery(ctx, r.policy, "messages of "+chatID, r.orderedQuery(chatID), func(docs []*firestore.DocumentSnapshot) error {
		messages, err := decodeMessages(docs)
		if err != nil {
			return err
		}
		fn(messages)
		return nil
	})
}

func decodeMessages(docs []*firestore.DocumentSnapshot) ([]*entity.Message, error) {
	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return nil, errors.Internal("Failed to parse message data", err)
		}
		message.ID = doc.Ref.ID
		messages = append(messages, &message)
	}
	return messages, nil
}
