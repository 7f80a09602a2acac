package usecase

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"pasarchat/internal/domain/chatkey"
	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/pkg/errors"
)

// ChatRecord owns the chat summary document: created once per conversation,
// then only touched by the last-message projection.
type ChatRecord struct {
	chatRepo repository.ChatRepository
}

func NewChatRecord(chatRepo repository.ChatRepository) *ChatRecord {
	return &ChatRecord{chatRepo: chatRepo}
}

// GetOrCreate returns the conversation between userA and userB about the
// given listing, creating it on first use. Both participants may call it at
// the same time; they get the same chat back.
func (r *ChatRecord) GetOrCreate(ctx context.Context, userA, userB string, product *entity.ProductContext) (*entity.Chat, error) {
	if userA == userB {
		return nil, errors.Participant("A chat needs two different participants")
	}

	productID := ""
	if product != nil {
		if product.ProductID == "" {
			return nil, errors.Validation("Product context needs a product id")
		}
		productID = product.ProductID
	}

	chatID, err := chatkey.Compute(userA, userB, productID)
	if err != nil {
		return nil, err
	}

	chat, err := r.chatRepo.GetByID(ctx, chatID)
	if err == nil {
		return checkParticipants(chat, userA, userB)
	}
	if !errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}

	participants := []string{userA, userB}
	sort.Strings(participants)

	initial := &entity.Chat{
		ID:           chatID,
		Participants: participants,
		LastMessage:  "",
	}
	if product != nil {
		pc := *product
		initial.ProductContext = &pc
	}

	chat, err = r.chatRepo.CreateIfAbsent(ctx, initial)
	if err != nil {
		return nil, err
	}
	return checkParticipants(chat, userA, userB)
}

// checkParticipants guards against a stored document whose members do not
// match the key it lives under.
func checkParticipants(chat *entity.Chat, userA, userB string) (*entity.Chat, error) {
	if len(chat.Participants) != 2 || !lo.Every(chat.Participants, []string{userA, userB}) {
		return nil, errors.Participant("Stored chat " + chat.ID + " belongs to different participants")
	}
	return chat, nil
}

// RecordMessageSent projects a stored message onto the chat summary. A
// failure leaves the preview and recency stale; the message itself is safe.
func (r *ChatRecord) RecordMessageSent(ctx context.Context, chatID, preview string) error {
	return r.chatRepo.UpdateLastMessage(ctx, chatID, preview)
}

func (r *ChatRecord) Get(ctx context.Context, chatID string) (*entity.Chat, error) {
	return r.chatRepo.GetByID(ctx, chatID)
}
