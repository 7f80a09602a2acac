package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
)

const chatsCollection = "chats"

type firestoreChatRepository struct {
	client *firestore.Client
	policy watch.Policy
}

func NewFirestoreChatRepository(client *firestore.Client, policy watch.Policy) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
		policy: policy,
	}
}

func (r *firestoreChatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	doc, err := r.client.Collection(chatsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat", nil)
		}
		return nil, firestoreError("Failed to get chat", err)
	}
	return decodeChat(doc)
}

// CreateIfAbsent relies on DocumentRef.Create failing with AlreadyExists
// when another participant won the race; the stored chat is read back.
func (r *firestoreChatRepository) CreateIfAbsent(ctx context.Context, chat *entity.Chat) (*entity.Chat, error) {
	created := *chat
	created.Participants = append([]string(nil), chat.Participants...)

	wr, err := r.client.Collection(chatsCollection).Doc(chat.ID).Create(ctx, &created)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return r.GetByID(ctx, chat.ID)
		}
		return nil, firestoreError("Failed to create chat", err)
	}

	created.CreatedAt = wr.UpdateTime
	created.UpdatedAt = wr.UpdateTime
	created.LastMessageAt = wr.UpdateTime
	return &created, nil
}

func (r *firestoreChatRepository) UpdateLastMessage(ctx context.Context, chatID, preview string) error {
	_, err := r.client.Collection(chatsCollection).Doc(chatID).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: preview},
		{Path: "lastMessageAt", Value: firestore.ServerTimestamp},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Chat", nil)
		}
		return firestoreError("Failed to update chat summary", err)
	}
	return nil
}

func (r *firestoreChatRepository) participantQuery(userID string) firestore.Query {
	return r.client.Collection(chatsCollection).
		Where("participants", "array-contains", userID).
		OrderBy("updatedAt", firestore.Desc)
}

func (r *firestoreChatRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.Chat, error) {
	docs, err := r.participantQuery(userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, firestoreError("Failed to list chats", err)
	}
	return decodeChats(docs)
}

func (r *firestoreChatRepository) WatchByParticipant(ctx context.Context, userID string, fn func([]*entity.Chat)) error {
	return watchQuery(ctx, r.policy, "chats of "+userID, r.participantQuery(userID), func(docs []*firestore.DocumentSnapshot) error {
		chats, err := decodeChats(docs)
		if err != nil {
			return err
		}
		fn(chats)
		return nil
	})
}

func decodeChat(doc *firestore.DocumentSnapshot) (*entity.Chat, error) {
	var chat entity.Chat
	if err := doc.DataTo(&chat); err != nil {
		return nil, errors.Internal("Failed to parse chat data", err)
	}
	chat.ID = doc.Ref.ID
	return &chat, nil
}

func decodeChats(docs []*firestore.DocumentSnapshot) ([]*entity.Chat, error) {
	chats := make([]*entity.Chat, 0, len(docs))
	for _, doc := range docs {
		chat, err := decodeChat(doc)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}
