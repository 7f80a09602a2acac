package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "pasarchat/internal/adapter/repository"
	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/badgerdb"
	"pasarchat/internal/infrastructure/ratelimit"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
)

type testEnv struct {
	chats    repository.ChatRepository
	messages repository.MessageRepository
	users    repository.UserRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := badgerdb.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := adapter.NewBadgerStore(db, watch.Policy{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond})
	env := &testEnv{
		chats:    adapter.NewBadgerChatRepository(store),
		messages: adapter.NewBadgerMessageRepository(store),
		users:    adapter.NewBadgerUserRepository(store),
	}
	ctx := context.Background()
	require.NoError(t, env.users.Create(ctx, &entity.User{ID: "u1", DisplayName: "Budi"}))
	require.NoError(t, env.users.Create(ctx, &entity.User{ID: "u2", Email: "seller@pasar.id"}))
	return env
}

func (e *testEnv) useCase() *ChatUseCase {
	return NewChatUseCase(e.chats, e.messages, e.users, nil)
}

// staleChatRepo stores chats but can never update their summary.
type staleChatRepo struct {
	repository.ChatRepository
}

func (staleChatRepo) UpdateLastMessage(context.Context, string, string) error {
	return errors.TransientStore("Failed to update chat", fmt.Errorf("unavailable"))
}

// brokenMessageRepo rejects every append.
type brokenMessageRepo struct {
	repository.MessageRepository
}

func (brokenMessageRepo) Create(context.Context, *entity.Message) error {
	return errors.TransientStore("Failed to create message", fmt.Errorf("connection reset"))
}

// views records session views; onChange runs under the session lock, so it
// must not block.
type views struct {
	mu   sync.Mutex
	last SessionView
	all  []SessionState
}

func (v *views) record(view SessionView) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = view
	v.all = append(v.all, view.State)
}

func (v *views) states() []SessionState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]SessionState(nil), v.all...)
}

func (v *views) latest() SessionView {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

func TestStartOrResumeChatScenario(t *testing.T) {
	env := newTestEnv(t)
	uc := env.useCase()
	ctx := context.Background()
	input := StartChatInput{CounterpartID: "u2", ProductID: "p1", ProductName: "Kamera"}

	first, err := uc.StartOrResumeChat(ctx, "u1", input)
	require.NoError(t, err)
	second, err := uc.StartOrResumeChat(ctx, "u1", input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "u1_u2_p1", first.ID)
	assert.Equal(t, "", first.LastMessage)

	fromSeller, err := uc.StartOrResumeChat(ctx, "u2", StartChatInput{CounterpartID: "u1", ProductID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, fromSeller.ID)
	assert.Equal(t, "Kamera", fromSeller.ProductContext.ProductName)

	result, err := uc.SendMessage(ctx, "u1", first.ID, SendMessageInput{Text: "Is this available?"})
	require.NoError(t, err)
	assert.False(t, result.SummaryStale)

	chat, err := uc.GetChat(ctx, "u2", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Is this available?", chat.LastMessage)

	messages, err := uc.ListMessages(ctx, "u2", first.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "u1", messages[0].SenderID)
	assert.False(t, messages[0].Read)
}

func TestStartOrResumeChatRejectsSelf(t *testing.T) {
	uc := newTestEnv(t).useCase()

	_, err := uc.StartOrResumeChat(context.Background(), "u1", StartChatInput{CounterpartID: "u1"})
	assert.True(t, errors.Is(err, errors.CodeInvalidParticipants))
}

func TestGeneralAndProductChatsAreDistinct(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()

	general, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)
	scoped, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2", ProductID: "p1"})
	require.NoError(t, err)
	assert.NotEqual(t, general.ID, scoped.ID)
	assert.Nil(t, general.ProductContext)
}

func TestGetOrCreateRace(t *testing.T) {
	env := newTestEnv(t)
	record := NewChatRecord(env.chats)
	ctx := context.Background()

	ids := make([]string, 2)
	var wg sync.WaitGroup
	for i, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		wg.Add(1)
		go func(i int, a, b string) {
			defer wg.Done()
			chat, err := record.GetOrCreate(ctx, a, b, &entity.ProductContext{ProductID: "p1"})
			if assert.NoError(t, err) {
				ids[i] = chat.ID
			}
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	assert.Equal(t, ids[0], ids[1])
	chats, err := env.chats.ListByParticipant(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
	assert.Equal(t, []string{"u1", "u2"}, chats[0].Participants)
}

func TestGetOrCreateRejectsSameUser(t *testing.T) {
	record := NewChatRecord(newTestEnv(t).chats)

	_, err := record.GetOrCreate(context.Background(), "u1", "u1", nil)
	assert.True(t, errors.Is(err, errors.CodeParticipant))
}

func TestGetOrCreateRejectsMismatchedDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.chats.CreateIfAbsent(ctx, &entity.Chat{ID: "u1_u2", Participants: []string{"u1", "u3"}})
	require.NoError(t, err)

	_, err = NewChatRecord(env.chats).GetOrCreate(ctx, "u2", "u1", nil)
	assert.True(t, errors.Is(err, errors.CodeParticipant))
}

func TestEmptyMessageIsRejectedBeforeStore(t *testing.T) {
	env := newTestEnv(t)
	uc := env.useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	_, err = uc.SendMessage(ctx, "u1", chat.ID, SendMessageInput{Text: "   "})
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = NewMessageStore(env.messages).Append(ctx, chat.ID, "u1", entity.MessageContent{})
	assert.True(t, errors.Is(err, errors.CodeValidation))

	messages, err := env.messages.ListByChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	after, err := env.chats.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, chat.UpdatedAt.Equal(after.UpdatedAt))
	assert.Equal(t, "", after.LastMessage)
}

func TestImageOnlyMessagePreview(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	_, err = uc.SendMessage(ctx, "u2", chat.ID, SendMessageInput{ImageURL: "https://cdn.pasar.id/a.jpg"})
	require.NoError(t, err)

	chat, err = uc.GetChat(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ImagePreview, chat.LastMessage)
}

func TestSendMessageKeepsMessageWhenSummaryFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := NewChatUseCase(staleChatRepo{env.chats}, env.messages, env.users, nil)
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	result, err := uc.SendMessage(ctx, "u1", chat.ID, SendMessageInput{Text: "halo"})
	require.NoError(t, err)
	assert.True(t, result.SummaryStale)

	messages, err := uc.ListMessages(ctx, "u1", chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, result.Message.ID, messages[0].ID)

	stored, err := uc.GetChat(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "", stored.LastMessage)
}

func TestNonParticipantIsForbidden(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	_, err = uc.GetChat(ctx, "u3", chat.ID)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	_, err = uc.SendMessage(ctx, "u3", chat.ID, SendMessageInput{Text: "hi"})
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	assert.True(t, errors.Is(uc.MarkRead(ctx, "u3", chat.ID, "m1"), errors.CodeForbidden))

	_, err = uc.GetChat(ctx, "u1", "u1_u9")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestSendMessageIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Rule{
		ratelimit.ActionSendMessage: {Every: time.Hour, Burst: 1},
	})
	uc := NewChatUseCase(env.chats, env.messages, env.users, limiter)
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	_, err = uc.SendMessage(ctx, "u1", chat.ID, SendMessageInput{Text: "one"})
	require.NoError(t, err)
	_, err = uc.SendMessage(ctx, "u1", chat.ID, SendMessageInput{Text: "two"})
	assert.True(t, errors.Is(err, errors.CodeTooManyRequests))
}

func TestMessageSubscriptionIsOrderedAndComplete(t *testing.T) {
	env := newTestEnv(t)
	uc := env.useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	var mu sync.Mutex
	var snapshots [][]*entity.Message
	sub, err := uc.SubscribeMessages(ctx, "u2", chat.ID, func(messages []*entity.Message) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, messages)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) > 0
	}, time.Second, time.Millisecond)

	const n = 10
	for i := 0; i < n; i++ {
		_, err := uc.SendMessage(ctx, "u1", chat.ID, SendMessageInput{Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) > 0 && len(snapshots[len(snapshots)-1]) == n
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, snapshots[0], "initial snapshot is delivered even when empty")
	previous := []string{}
	for _, snapshot := range snapshots {
		assert.True(t, sort.SliceIsSorted(snapshot, func(i, j int) bool {
			return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
		}))
		ids := make([]string, len(snapshot))
		for i, m := range snapshot {
			ids[i] = m.ID
		}
		require.GreaterOrEqual(t, len(ids), len(previous))
		assert.Equal(t, previous, ids[:len(previous)], "earlier entries never reorder")
		previous = ids
	}
	last := snapshots[len(snapshots)-1]
	for i, m := range last {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Text)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestMarkRead(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)
	result, err := uc.SendMessage(ctx, "u1", chat.ID, SendMessageInput{Text: "hi"})
	require.NoError(t, err)

	require.NoError(t, uc.MarkRead(ctx, "u2", chat.ID, result.Message.ID))
	messages, err := uc.ListMessages(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.True(t, messages[0].Read)

	err = uc.MarkRead(ctx, "u2", chat.ID, "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
