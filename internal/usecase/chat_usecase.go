package usecase

import (
	"context"
	"fmt"
	"time"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/ratelimit"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
	"pasarchat/pkg/logger"
)

type ChatUseCase struct {
	record      *ChatRecord
	directory   *ChatDirectory
	messages    *MessageStore
	userRepo    repository.UserRepository
	rateLimiter *ratelimit.RateLimiter
}

// NewChatUseCase wires the chat components. A nil rateLimiter disables send
// throttling.
func NewChatUseCase(
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	rateLimiter *ratelimit.RateLimiter,
) *ChatUseCase {
	return &ChatUseCase{
		record:      NewChatRecord(chatRepo),
		directory:   NewChatDirectory(chatRepo),
		messages:    NewMessageStore(messageRepo),
		userRepo:    userRepo,
		rateLimiter: rateLimiter,
	}
}

type StartChatInput struct {
	CounterpartID   string `json:"counterpart_id"`
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	ProductImageURL string `json:"product_image_url"`
}

type SendMessageInput struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

// SendResult reports a stored message. SummaryStale is set when the chat's
// preview and recency could not be updated afterwards.
type SendResult struct {
	Message      *entity.Message `json:"message"`
	SummaryStale bool            `json:"summary_stale"`
}

// InboxEntry is one row of a user's chat list.
type InboxEntry struct {
	*entity.Chat
	Counterpart *Counterpart `json:"counterpart"`
}

// StartOrResumeChat returns the conversation between selfID and the
// counterpart about the given listing, creating it the first time.
func (uc *ChatUseCase) StartOrResumeChat(ctx context.Context, selfID string, input StartChatInput) (*entity.Chat, error) {
	if selfID == "" || input.CounterpartID == "" {
		return nil, errors.InvalidParticipants("Both participants are required")
	}
	if selfID == input.CounterpartID {
		logger.Warn("StartOrResumeChat: user %s attempted to chat with themselves", selfID)
		return nil, errors.InvalidParticipants("You cannot start a chat with yourself")
	}

	var product *entity.ProductContext
	if input.ProductID != "" {
		product = &entity.ProductContext{
			ProductID:       input.ProductID,
			ProductName:     input.ProductName,
			ProductImageURL: input.ProductImageURL,
		}
	}

	chat, err := uc.record.GetOrCreate(ctx, selfID, input.CounterpartID, product)
	if err != nil {
		logger.Error("StartOrResumeChat: %s with %s failed: %v", selfID, input.CounterpartID, err)
		return nil, err
	}
	return chat, nil
}

// OpenChat opens a live session on chatID for selfID. The session is Ready,
// or in the Error state when the chat cannot be shown. Callers must Close it.
func (uc *ChatUseCase) OpenChat(ctx context.Context, selfID, chatID string, onChange func(SessionView)) *ChatSession {
	return openSession(ctx, selfID, chatID, uc.record, uc.userRepo, uc.messages, uc.post, onChange)
}

// ListMyChats follows selfID's chat list, most recent first.
func (uc *ChatUseCase) ListMyChats(ctx context.Context, selfID string, fn func([]*entity.Chat)) (*watch.Subscription, error) {
	return uc.directory.Subscribe(ctx, selfID, fn)
}

func (uc *ChatUseCase) SendText(ctx context.Context, session *ChatSession, text string) (*entity.Message, error) {
	return session.Send(ctx, SendInput{Text: text})
}

// SendMessage is the request/response send path for clients without an open
// session.
func (uc *ChatUseCase) SendMessage(ctx context.Context, selfID, chatID string, input SendMessageInput) (*SendResult, error) {
	content := entity.MessageContent{Text: input.Text, ImageURL: input.ImageURL}
	if content.IsEmpty() {
		return nil, errors.Validation("Message needs text or an image")
	}
	if _, err := uc.participantChat(ctx, selfID, chatID); err != nil {
		return nil, err
	}
	return uc.post(ctx, selfID, chatID, NewMessageID(), content)
}

// post appends the message and then projects it onto the chat summary. The
// two writes are independent: when the projection fails the send still
// succeeds and the result is flagged stale.
func (uc *ChatUseCase) post(ctx context.Context, senderID, chatID, messageID string, content entity.MessageContent) (*SendResult, error) {
	if uc.rateLimiter != nil {
		if allowed, wait := uc.rateLimiter.Allow(senderID, ratelimit.ActionSendMessage); !allowed {
			logger.Warn("SendMessage rate limited: user %s must wait %v", senderID, wait)
			return nil, errors.TooManyRequests(fmt.Sprintf("Sending too fast, retry in %v", wait.Round(time.Second)))
		}
	}

	message, err := uc.messages.AppendWithID(ctx, messageID, chatID, senderID, content)
	if err != nil {
		logger.Error("SendMessage: append to %s failed: %v", chatID, err)
		return nil, err
	}

	result := &SendResult{Message: message}
	if err := uc.record.RecordMessageSent(ctx, chatID, content.Preview()); err != nil {
		logger.LogStaleSummary(chatID, message.ID, err)
		result.SummaryStale = true
	}
	return result, nil
}

func (uc *ChatUseCase) GetChat(ctx context.Context, selfID, chatID string) (*entity.Chat, error) {
	return uc.participantChat(ctx, selfID, chatID)
}

// ListChats is a one-off read of selfID's inbox with counterpart labels.
func (uc *ChatUseCase) ListChats(ctx context.Context, selfID string) ([]*InboxEntry, error) {
	chats, err := uc.directory.List(ctx, selfID)
	if err != nil {
		return nil, err
	}
	return uc.Inbox(ctx, selfID, chats), nil
}

// Inbox labels each chat with its counterpart. Profiles that cannot be read
// fall back to the generic label rather than hiding the row.
func (uc *ChatUseCase) Inbox(ctx context.Context, selfID string, chats []*entity.Chat) []*InboxEntry {
	labels := make(map[string]*Counterpart)
	entries := make([]*InboxEntry, 0, len(chats))
	for _, chat := range chats {
		otherID, _ := chat.Counterpart(selfID)
		counterpart, ok := labels[otherID]
		if !ok {
			counterpart = &Counterpart{ID: otherID, Name: (&entity.User{}).Label()}
			if user, err := uc.userRepo.GetByID(ctx, otherID); err == nil {
				counterpart.Name = user.Label()
				counterpart.PhotoURL = user.PhotoURL
			} else if !errors.Is(err, errors.CodeNotFound) {
				logger.Warn("Inbox: profile %s unavailable: %v", otherID, err)
			}
			labels[otherID] = counterpart
		}
		entries = append(entries, &InboxEntry{Chat: chat, Counterpart: counterpart})
	}
	return entries
}

func (uc *ChatUseCase) ListMessages(ctx context.Context, selfID, chatID string) ([]*entity.Message, error) {
	if _, err := uc.participantChat(ctx, selfID, chatID); err != nil {
		return nil, err
	}
	return uc.messages.List(ctx, chatID)
}

func (uc *ChatUseCase) SubscribeMessages(ctx context.Context, selfID, chatID string, fn func([]*entity.Message)) (*watch.Subscription, error) {
	if _, err := uc.participantChat(ctx, selfID, chatID); err != nil {
		return nil, err
	}
	return uc.messages.Subscribe(ctx, chatID, fn), nil
}

func (uc *ChatUseCase) MarkRead(ctx context.Context, selfID, chatID, messageID string) error {
	if messageID == "" {
		return errors.Validation("Message id is required")
	}
	if _, err := uc.participantChat(ctx, selfID, chatID); err != nil {
		return err
	}
	return uc.messages.MarkRead(ctx, chatID, messageID)
}

func (uc *ChatUseCase) participantChat(ctx context.Context, selfID, chatID string) (*entity.Chat, error) {
	chat, err := uc.record.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(selfID) {
		return nil, errors.Forbidden("You are not a participant of this chat", nil)
	}
	return chat, nil
}
